// Package admin provisions clusters and issues messages.
//
// It is the operator-side counterpart of the Manager: it creates the metadata
// layout a Manager verifies on every session, registers participants ahead of
// time when auto-join is disabled, and writes state-transition messages the
// way a controller pipeline does.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/helmsman/internal/logging"
	"github.com/arloliu/helmsman/internal/paths"
	"github.com/arloliu/helmsman/statemodel"
	"github.com/arloliu/helmsman/types"
)

// ErrInstanceNotLive is returned when a message targets an instance without
// a presence record.
var ErrInstanceNotLive = errors.New("instance is not live")

// ClusterConfig is the payload of the cluster config node.
type ClusterConfig struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Admin performs provisioning operations against a metadata store.
type Admin struct {
	store  types.MetadataStore
	logger types.Logger
}

// Option configures an Admin.
type Option func(*Admin)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(a *Admin) { a.logger = logging.OrNop(logger) }
}

// New creates an Admin.
//
// Parameters:
//   - store: Metadata store connection
//   - opts: Optional configuration
//
// Returns:
//   - *Admin: Admin bound to store
func New(store types.MetadataStore, opts ...Option) *Admin {
	a := &Admin{store: store, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// SetupCluster creates the cluster layout. Existing nodes are kept, so the
// call is idempotent.
//
// Parameters:
//   - ctx: Context for store calls
//   - cluster: Cluster name
//
// Returns:
//   - error: Store failure
func (a *Admin) SetupCluster(ctx context.Context, cluster string) error {
	b := paths.New(cluster)
	for _, p := range b.ClusterStructure() {
		var value []byte
		if p == b.ClusterConfig() {
			data, err := json.Marshal(ClusterConfig{Name: cluster, CreatedAt: time.Now()})
			if err != nil {
				return fmt.Errorf("failed to encode cluster config: %w", err)
			}
			value = data
		}
		if err := a.create(ctx, p, value); err != nil {
			return fmt.Errorf("failed to set up cluster %s: %w", cluster, err)
		}
	}
	a.logger.Info("cluster set up", "cluster", cluster)

	return nil
}

// IsClusterSetup reports whether every node of the cluster layout exists.
func (a *Admin) IsClusterSetup(ctx context.Context, cluster string) (bool, error) {
	for _, p := range paths.New(cluster).ClusterStructure() {
		_, err := a.store.Get(ctx, p)
		if errors.Is(err, types.ErrNodeNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	return true, nil
}

// AddInstance registers a participant and creates its subtree.
//
// Returns:
//   - error: ErrNodeExists (wrapped) if the participant is already configured
func (a *Admin) AddInstance(ctx context.Context, cluster, instance string) error {
	b := paths.New(cluster)
	data, err := json.Marshal(types.InstanceConfig{InstanceName: instance, Enabled: true, JoinedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode participant config: %w", err)
	}
	if _, err := a.store.Create(ctx, b.ParticipantConfig(instance), data, types.Persistent); err != nil {
		return fmt.Errorf("failed to add instance %s: %w", instance, err)
	}
	for _, p := range b.InstanceStructure(instance) {
		if err := a.create(ctx, p, nil); err != nil {
			return fmt.Errorf("failed to create instance structure: %w", err)
		}
	}
	a.logger.Info("instance added", "cluster", cluster, "instance", instance)

	return nil
}

// Instances returns the configured participants.
func (a *Admin) Instances(ctx context.Context, cluster string) ([]string, error) {
	return a.store.Children(ctx, paths.New(cluster).ParticipantConfigs())
}

// LiveInstances returns the participants holding a presence record.
func (a *Admin) LiveInstances(ctx context.Context, cluster string) ([]string, error) {
	return a.store.Children(ctx, paths.New(cluster).LiveInstances())
}

// LiveInstance reads the presence record of instance.
//
// Returns:
//   - types.LiveInstance: The record
//   - error: ErrInstanceNotLive when absent
func (a *Admin) LiveInstance(ctx context.Context, cluster, instance string) (types.LiveInstance, error) {
	var rec types.LiveInstance
	entry, err := a.store.Get(ctx, paths.New(cluster).LiveInstance(instance))
	if errors.Is(err, types.ErrNodeNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrInstanceNotLive, instance)
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode presence record of %s: %w", instance, err)
	}

	return rec, nil
}

// AddStateModelDef publishes the definition of model under STATEMODELDEFS.
func (a *Admin) AddStateModelDef(ctx context.Context, cluster string, model types.StateModel) error {
	data, err := json.Marshal(statemodel.Describe(model))
	if err != nil {
		return fmt.Errorf("failed to encode state model %s: %w", model.Name, err)
	}
	if _, err := a.store.Put(ctx, paths.New(cluster).StateModelDef(model.Name), data, types.Persistent); err != nil {
		return fmt.Errorf("failed to add state model %s: %w", model.Name, err)
	}

	return nil
}

// PutIdealState writes the ideal state of resource. The payload is opaque to
// helmsman and interpreted by the controller pipeline.
func (a *Admin) PutIdealState(ctx context.Context, cluster, resource string, value []byte) error {
	if _, err := a.store.Put(ctx, paths.New(cluster).IdealState(resource), value, types.Persistent); err != nil {
		return fmt.Errorf("failed to write ideal state of %s: %w", resource, err)
	}

	return nil
}

// IdealStatesPath returns the store path under which cluster's ideal states
// live, for use with Manager.AddListener.
func IdealStatesPath(cluster string) string {
	return paths.New(cluster).IdealStates()
}

// LiveInstancesPath returns the store path of cluster's presence records.
func LiveInstancesPath(cluster string) string {
	return paths.New(cluster).LiveInstances()
}

// SendMessage writes msg to its target instance's message queue.
//
// A missing ID is filled with a random UUID and a zero CreatedAt with the
// current time.
//
// Parameters:
//   - ctx: Context for the store call
//   - cluster: Cluster name
//   - msg: Message; TargetInstance is required
//
// Returns:
//   - types.Message: The message as written
//   - error: ErrInvalidMessage or store failures
func (a *Admin) SendMessage(ctx context.Context, cluster string, msg types.Message) (types.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = types.MessageStateTransition
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.TargetInstance == "" {
		return msg, fmt.Errorf("%w: message %s missing target instance", types.ErrInvalidMessage, msg.ID)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	p := paths.New(cluster).Message(msg.TargetInstance, msg.ID)
	if _, err := a.store.Create(ctx, p, data, types.Persistent); err != nil {
		return msg, fmt.Errorf("failed to send message %s: %w", msg.ID, err)
	}
	a.logger.Debug("message sent",
		"message_id", msg.ID,
		"instance", msg.TargetInstance,
		"entity", msg.EntityKey(),
		"from", msg.FromState,
		"to", msg.ToState,
	)

	return msg, nil
}

// SendTransition addresses a state-transition message to the live session of
// instance.
//
// Returns:
//   - types.Message: The message as written
//   - error: ErrInstanceNotLive, ErrInvalidMessage or store failures
func (a *Admin) SendTransition(ctx context.Context, cluster, instance, resource, partition, model, from, to string) (types.Message, error) {
	live, err := a.LiveInstance(ctx, cluster, instance)
	if err != nil {
		return types.Message{}, err
	}

	return a.SendMessage(ctx, cluster, types.Message{
		Type:            types.MessageStateTransition,
		Resource:        resource,
		Partition:       partition,
		StateModel:      model,
		FromState:       from,
		ToState:         to,
		TargetInstance:  instance,
		TargetSessionID: live.SessionID,
	})
}

func (a *Admin) create(ctx context.Context, p string, value []byte) error {
	if _, err := a.store.Create(ctx, p, value, types.Persistent); err != nil && !errors.Is(err, types.ErrNodeExists) {
		return err
	}

	return nil
}

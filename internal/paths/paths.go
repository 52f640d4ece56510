// Package paths builds the hierarchical metadata paths of a cluster.
//
// Layout:
//
//	/<cluster>/CONFIGS/CLUSTER/<cluster>
//	/<cluster>/CONFIGS/PARTICIPANT/<instance>
//	/<cluster>/CONFIGS/RESOURCE
//	/<cluster>/IDEALSTATES/<resource>
//	/<cluster>/LIVEINSTANCES/<instance>
//	/<cluster>/INSTANCES/<instance>/MESSAGES/<msgId>
//	/<cluster>/INSTANCES/<instance>/CURRENTSTATES/<session>/<resource>
//	/<cluster>/INSTANCES/<instance>/HEALTHREPORT/<name>
//	/<cluster>/CONTROLLER/LEADER
//	/<cluster>/CONTROLLER/STATUSUPDATES
//	/<cluster>/STATEMODELDEFS/<model>
//	/<cluster>/EXTERNALVIEW
package paths

import (
	"fmt"
	"path"
	"strings"

	"github.com/arloliu/helmsman/types"
)

// Node names of the cluster layout.
const (
	Configs        = "CONFIGS"
	ClusterConfig  = "CLUSTER"
	Participant    = "PARTICIPANT"
	Resource       = "RESOURCE"
	IdealStates    = "IDEALSTATES"
	LiveInstances  = "LIVEINSTANCES"
	Instances      = "INSTANCES"
	Messages       = "MESSAGES"
	CurrentStates  = "CURRENTSTATES"
	HealthReport   = "HEALTHREPORT"
	Controller     = "CONTROLLER"
	Leader         = "LEADER"
	StatusUpdates  = "STATUSUPDATES"
	StateModelDefs = "STATEMODELDEFS"
	ExternalView   = "EXTERNALVIEW"
)

// Builder builds paths for one cluster.
type Builder struct {
	cluster string
}

// New creates a Builder for cluster.
func New(cluster string) Builder {
	return Builder{cluster: cluster}
}

// Cluster returns the cluster name.
func (b Builder) Cluster() string { return b.cluster }

// Root returns "/<cluster>".
func (b Builder) Root() string { return Join(b.cluster) }

// ClusterConfig returns the cluster configuration node.
func (b Builder) ClusterConfig() string {
	return Join(b.cluster, Configs, ClusterConfig, b.cluster)
}

// ParticipantConfigs returns the parent of all participant configurations.
func (b Builder) ParticipantConfigs() string {
	return Join(b.cluster, Configs, Participant)
}

// ParticipantConfig returns the configuration node of instance.
func (b Builder) ParticipantConfig(instance string) string {
	return Join(b.cluster, Configs, Participant, instance)
}

// ResourceConfigs returns the resource configuration parent.
func (b Builder) ResourceConfigs() string {
	return Join(b.cluster, Configs, Resource)
}

// IdealStates returns the parent of all ideal-state nodes.
func (b Builder) IdealStates() string { return Join(b.cluster, IdealStates) }

// IdealState returns the ideal-state node of resource.
func (b Builder) IdealState(resource string) string {
	return Join(b.cluster, IdealStates, resource)
}

// LiveInstances returns the parent of all presence records.
func (b Builder) LiveInstances() string { return Join(b.cluster, LiveInstances) }

// LiveInstance returns the presence record path of instance.
func (b Builder) LiveInstance(instance string) string {
	return Join(b.cluster, LiveInstances, instance)
}

// Instances returns the parent of all per-instance subtrees.
func (b Builder) Instances() string { return Join(b.cluster, Instances) }

// Instance returns the subtree root of instance.
func (b Builder) Instance(instance string) string {
	return Join(b.cluster, Instances, instance)
}

// Messages returns the message inbox of instance.
func (b Builder) Messages(instance string) string {
	return Join(b.cluster, Instances, instance, Messages)
}

// Message returns the path of one message.
func (b Builder) Message(instance, msgID string) string {
	return Join(b.cluster, Instances, instance, Messages, msgID)
}

// CurrentStates returns the parent of all per-session current-state directories.
func (b Builder) CurrentStates(instance string) string {
	return Join(b.cluster, Instances, instance, CurrentStates)
}

// SessionCurrentStates returns the current-state directory of one session.
func (b Builder) SessionCurrentStates(instance, session string) string {
	return Join(b.cluster, Instances, instance, CurrentStates, session)
}

// CurrentState returns the current-state record of resource in session.
func (b Builder) CurrentState(instance, session, resource string) string {
	return Join(b.cluster, Instances, instance, CurrentStates, session, resource)
}

// HealthReports returns the health-report directory of instance.
func (b Builder) HealthReports(instance string) string {
	return Join(b.cluster, Instances, instance, HealthReport)
}

// HealthReport returns one named health report of instance.
func (b Builder) HealthReport(instance, name string) string {
	return Join(b.cluster, Instances, instance, HealthReport, name)
}

// Controller returns the controller directory.
func (b Builder) Controller() string { return Join(b.cluster, Controller) }

// Leader returns the leadership record path.
func (b Builder) Leader() string { return Join(b.cluster, Controller, Leader) }

// StatusUpdates returns the controller status directory.
func (b Builder) StatusUpdates() string {
	return Join(b.cluster, Controller, StatusUpdates)
}

// StateModelDefs returns the parent of all state model definitions.
func (b Builder) StateModelDefs() string { return Join(b.cluster, StateModelDefs) }

// StateModelDef returns the definition node of model.
func (b Builder) StateModelDef(model string) string {
	return Join(b.cluster, StateModelDefs, model)
}

// ExternalView returns the external view directory.
func (b Builder) ExternalView() string { return Join(b.cluster, ExternalView) }

// ClusterStructure lists the persistent nodes that must exist for the cluster
// to be considered set up, parents first.
func (b Builder) ClusterStructure() []string {
	return []string{
		b.Root(),
		Join(b.cluster, Configs),
		Join(b.cluster, Configs, ClusterConfig),
		b.ClusterConfig(),
		b.ParticipantConfigs(),
		b.ResourceConfigs(),
		b.IdealStates(),
		b.LiveInstances(),
		b.Instances(),
		b.Controller(),
		b.StatusUpdates(),
		b.StateModelDefs(),
		b.ExternalView(),
	}
}

// InstanceStructure lists the persistent nodes of a participant subtree.
func (b Builder) InstanceStructure(instance string) []string {
	return []string{
		b.Instance(instance),
		b.Messages(instance),
		b.CurrentStates(instance),
		b.HealthReports(instance),
	}
}

// Join builds an absolute path from segments.
func Join(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

// Clean normalizes p to an absolute path without a trailing separator.
func Clean(p string) string {
	if p == "" {
		return "/"
	}

	return path.Clean("/" + p)
}

// Split returns the non-empty segments of p.
func Split(p string) []string {
	p = strings.Trim(Clean(p), "/")
	if p == "" {
		return nil
	}

	return strings.Split(p, "/")
}

// Parent returns the parent of p ("/" for top-level nodes).
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the last segment of p.
func Base(p string) string {
	return path.Base(Clean(p))
}

// IsChild reports whether child is a direct child of parent.
func IsChild(parent, child string) bool {
	return Parent(child) == Clean(parent) && Clean(child) != Clean(parent)
}

// IsDescendant reports whether p is parent itself or lies below it.
func IsDescendant(parent, p string) bool {
	parent, p = Clean(parent), Clean(p)
	if parent == "/" || parent == p {
		return true
	}

	return strings.HasPrefix(p, parent+"/")
}

// Validate checks that every segment of p is non-empty and uses only
// characters accepted as key tokens by the metadata store.
//
// Returns:
//   - error: types.ErrInvalidPath (wrapped) describing the offending segment
func Validate(p string) error {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return fmt.Errorf("%w: root path %q", types.ErrInvalidPath, p)
	}
	for s := range strings.SplitSeq(trimmed, "/") {
		if s == "" {
			return fmt.Errorf("%w: empty segment in %q", types.ErrInvalidPath, p)
		}
		if s == "." || s == ".." {
			return fmt.Errorf("%w: relative segment in %q", types.ErrInvalidPath, p)
		}
		for _, r := range s {
			if !validRune(r) {
				return fmt.Errorf("%w: segment %q contains %q", types.ErrInvalidPath, s, r)
			}
		}
	}

	return nil
}

func validRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '=':
		return true
	default:
		return false
	}
}

package planregistry

import "time"

// PlanRecord is the persistent record written to plan.json.
//
// Fields are only ever added so older records keep loading.
type PlanRecord struct {
	PlanID       string      `json:"plan_id"`
	Deployment   string      `json:"deployment"`
	ManifestPath string      `json:"manifest_path,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Jobs         []JobRecord `json:"jobs"`
}

// JobRecord captures one bound job: the projections delivered to agents
// plus an instance summary.
type JobRecord struct {
	Name        string                    `json:"name"`
	Lifecycle   string                    `json:"lifecycle"`
	State       string                    `json:"state"`
	Spec        map[string]any            `json:"spec"`
	PackageSpec map[string]map[string]any `json:"package_spec"`
	Properties  map[string]any            `json:"properties"`
	Instances   []InstanceRecord          `json:"instances,omitempty"`
}

// InstanceRecord is the bound state of one instance.
type InstanceRecord struct {
	Index    int               `json:"index"`
	State    string            `json:"state"`
	VMCID    string            `json:"vm_cid,omitempty"`
	Networks map[string]string `json:"networks,omitempty"`
}

// Job returns the record of the named job, or nil.
func (r *PlanRecord) Job(name string) *JobRecord {
	for i := range r.Jobs {
		if r.Jobs[i].Name == name {
			return &r.Jobs[i]
		}
	}
	return nil
}

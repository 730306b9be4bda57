package planner

import (
	"fmt"
	"time"

	"github.com/3leaps/fleetplan/pkg/planregistry"
)

// Record renders the plan as a registry record.
func (p *Plan) Record(planID, manifestPath string, createdAt time.Time) (*planregistry.PlanRecord, error) {
	rec := &planregistry.PlanRecord{
		PlanID:       planID,
		Deployment:   p.Name(),
		ManifestPath: manifestPath,
		CreatedAt:    createdAt.UTC(),
		Jobs:         make([]planregistry.JobRecord, 0, len(p.Jobs)),
	}

	for _, job := range p.Jobs {
		spec, err := job.Spec()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		pkgSpec, err := job.PackageSpec()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}

		jr := planregistry.JobRecord{
			Name:        job.Name,
			Lifecycle:   string(job.Lifecycle),
			State:       string(job.State),
			Spec:        spec.AsMap(),
			PackageSpec: pkgSpec,
			Properties:  job.Properties(),
		}
		for _, inst := range p.instances[job.Name] {
			s := inst.Summary()
			jr.Instances = append(jr.Instances, planregistry.InstanceRecord{
				Index:    s.Index,
				State:    s.State,
				VMCID:    s.VMCID,
				Networks: s.Networks,
			})
		}
		rec.Jobs = append(rec.Jobs, jr)
	}
	return rec, nil
}

package deployplan

import "fmt"

type packageSupplier struct {
	release  ReleaseKey
	template string
}

// ValidatePackageNamesDoNotCollide fails when two releases supply a package
// with the same name to this job. Only the first two releases are reported,
// in template order.
func (j *Job) ValidatePackageNamesDoNotCollide() error {
	var order []string
	suppliers := make(map[string][]packageSupplier)

	for _, t := range j.Templates {
		m, err := t.Model()
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		for _, name := range m.PackageNames {
			known, seen := suppliers[name]
			if !seen {
				order = append(order, name)
			}
			if !containsRelease(known, t.Release) {
				suppliers[name] = append(known, packageSupplier{release: t.Release, template: t.Name})
			}
		}
	}

	for _, name := range order {
		s := suppliers[name]
		if len(s) < 2 {
			continue
		}
		return &PackageCollisionError{
			Job:       j.Name,
			Package:   name,
			Releases:  [2]ReleaseKey{s[0].release, s[1].release},
			Templates: [2]string{s[0].template, s[1].template},
		}
	}
	return nil
}

func containsRelease(suppliers []packageSupplier, release ReleaseKey) bool {
	for _, s := range suppliers {
		if s.release == release {
			return true
		}
	}
	return false
}

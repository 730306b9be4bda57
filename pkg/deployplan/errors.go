package deployplan

import (
	"errors"
	"fmt"
)

// Sentinel errors for job binding.
var (
	// ErrNoTemplates indicates a job was serialized or filtered before any
	// template was bound to it. This is a programming error in the caller.
	ErrNoTemplates = errors.New("job has no templates")

	// ErrTemplateNotBound indicates a template was used before its backing
	// model was attached.
	ErrTemplateNotBound = errors.New("template is not bound to a model")

	// ErrPropertyStyleConflict indicates co-located templates mix declared and
	// undeclared property schemas.
	ErrPropertyStyleConflict = errors.New("conflicting property definition styles")

	// ErrPackageCollision indicates two releases supply a same-named package
	// to one job.
	ErrPackageCollision = errors.New("package name collision")

	// ErrInvalidJobState indicates a state outside ValidJobStates.
	ErrInvalidJobState = errors.New("invalid job state")

	// ErrInvalidLifecycle indicates a lifecycle other than service or errand.
	ErrInvalidLifecycle = errors.New("invalid job lifecycle")

	// ErrInvalidPackage indicates a compiled package without a usable name.
	ErrInvalidPackage = errors.New("invalid compiled package")
)

// PropertyStyleConflictError names the job whose templates disagree on
// whether they declare property schemas.
type PropertyStyleConflictError struct {
	Job string
}

// Error implements the error interface.
func (e *PropertyStyleConflictError) Error() string {
	return fmt.Sprintf("job %q has templates with conflicting property definition styles: "+
		"some declare properties in their spec and some do not "+
		"(this happens when co-locating templates from releases with different spec conventions)", e.Job)
}

// Unwrap returns ErrPropertyStyleConflict for errors.Is support.
func (e *PropertyStyleConflictError) Unwrap() error {
	return ErrPropertyStyleConflict
}

// PackageCollisionError reports a package name supplied by two releases.
//
// Releases and Templates are parallel: Templates[i] is a template in the job,
// from Releases[i], that depends on Package.
type PackageCollisionError struct {
	Job       string
	Package   string
	Releases  [2]ReleaseKey
	Templates [2]string
}

// Error implements the error interface.
func (e *PackageCollisionError) Error() string {
	return fmt.Sprintf("package name collision in job %q: template %s/%s depends on package %s/%s, "+
		"template %s/%s depends on package %s/%s; packages with identical names from separate releases cannot be co-located",
		e.Job,
		e.Releases[0].Name, e.Templates[0], e.Releases[0], e.Package,
		e.Releases[1].Name, e.Templates[1], e.Releases[1], e.Package)
}

// Unwrap returns ErrPackageCollision for errors.Is support.
func (e *PackageCollisionError) Unwrap() error {
	return ErrPackageCollision
}

// IsPrecondition reports whether err is a caller programming error rather
// than a problem with user configuration.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNoTemplates) || errors.Is(err, ErrTemplateNotBound)
}

// IsConfigurationError reports whether err is a user-facing configuration
// error detected while binding a job.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrPropertyStyleConflict) ||
		errors.Is(err, ErrPackageCollision) ||
		errors.Is(err, ErrInvalidJobState) ||
		errors.Is(err, ErrInvalidLifecycle)
}

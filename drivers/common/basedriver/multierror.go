package basedriver

import "github.com/hashicorp/go-multierror"

// warnDeleteFailure accumulates the per-child failures RemoveAll encounters
// while walking a directory tree, so one unlinkable grandchild doesn't abort
// the whole recursive delete before its siblings get a chance.
type warnDeleteFailure struct {
	errs *multierror.Error
}

func (w *warnDeleteFailure) add(err error) {
	w.errs = multierror.Append(w.errs, err)
}

func (w *warnDeleteFailure) errorOrNil() error {
	return w.errs.ErrorOrNil()
}

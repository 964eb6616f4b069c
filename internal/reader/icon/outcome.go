package icon

import (
	"errors"
	"fmt"
	"net/url"

	"feedkeeper.app/internal/reader/fetcher"
)

// outcome collects why candidates failed, to tell a site without favicon
// from one which can't be checked right now.
type outcome struct {
	notFound  int
	unusable  int
	temporary error
}

func (self *outcome) pageFailed(err error) {
	switch {
	case fetcher.IsNotFound(err):
	case !fetcher.IsPermanent(err):
		self.temporary = err
	}
}

func (self *outcome) candidateFailed(err error) {
	switch {
	case fetcher.IsNotFound(err):
		self.notFound++
	case errors.Is(err, errNotAnImage) || fetcher.IsPermanent(err) ||
		errors.Is(err, fetcher.ErrEmptyBody):
		self.unusable++
	case self.temporary == nil:
		self.temporary = err
	}
}

func (self *outcome) Err(site *url.URL) error {
	switch {
	case self.temporary != nil:
		return fmt.Errorf("reader/icon: favicon of %q unresolved: %w",
			site.String(), self.temporary)
	case self.unusable == 0 && self.notFound > 0:
		return fmt.Errorf("%w: %s", ErrNoFavicon, site.String())
	}
	return fmt.Errorf("reader/icon: no usable favicon of %q, %d unusable",
		site.String(), self.unusable)
}

package chatapp

import "fmt"

type multiError []error

func (err multiError) Error() string {
	if len(err) == 0 {
		return ""
	}
	return fmt.Sprintf("%d errors: %q", len(err), []error(err))
}

// errorOrNil returns nil for an empty multiError so callers can return it
// directly.
func (err multiError) errorOrNil() error {
	if len(err) == 0 {
		return nil
	}
	return err
}

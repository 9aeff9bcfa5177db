package port

import "errors"

// ErrDuplicate is returned by repositories when an insert violates a
// uniqueness constraint (duplicate approval vote, second active instance for
// an entity). Services translate it into a domain ConflictError.
var ErrDuplicate = errors.New("duplicate row violates a uniqueness constraint")

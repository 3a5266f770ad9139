package valueobjects

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// connectionNamespace scopes name-based connection ids to this module.
var connectionNamespace = uuid.MustParse("8f3a1c2e-5d6b-4e7f-9a0b-1c2d3e4f5a6b")

// NewConnectionID derives a client-generated connection identifier from the
// endpoints and creation instant. The same edge created at the same instant
// yields the same id, so a retried emission cannot mint a second edge.
func NewConnectionID(source, sourceHandle, target, targetHandle string, at time.Time) string {
	name := source + "|" + sourceHandle + "|" + target + "|" + targetHandle + "|" +
		strconv.FormatInt(at.UnixNano(), 10)
	return uuid.NewSHA1(connectionNamespace, []byte(name)).String()
}

// Package access decides consultation membership.
package access

import (
	"mobidoc/pkg/types"
)

// CanAccess reports whether the user may see and act on the consultation:
// admins always, otherwise only the patient or the doctor of record.
// It is pure and performs no I/O.
func CanAccess(userID string, role types.Role, c *types.Consultation) bool {
	if c == nil {
		return false
	}
	if role == types.RoleAdmin {
		return true
	}
	return IsParty(userID, c)
}

// Authorize is CanAccess as an error. The denial is the same whatever the
// reason.
func Authorize(id types.Identity, c *types.Consultation) error {
	if !CanAccess(id.UserID, id.Role, c) {
		return types.ErrAccessDenied
	}
	return nil
}

// IsParty reports whether the user is the patient or doctor of record.
func IsParty(userID string, c *types.Consultation) bool {
	return c != nil && userID != "" && (userID == c.PatientID || userID == c.DoctorID)
}

// Counterpart returns the other party for a message sender. A sender who is
// not a party (an admin) has no designated recipient.
func Counterpart(senderID string, c *types.Consultation) string {
	switch senderID {
	case c.PatientID:
		return c.DoctorID
	case c.DoctorID:
		return c.PatientID
	default:
		return ""
	}
}

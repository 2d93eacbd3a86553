package entity

import "strings"

// IDType names an identity document accepted for recipients.
type IDType string

const (
	IDTypeAadhaar        IDType = "AADHAAR"
	IDTypePAN            IDType = "PAN"
	IDTypePassport       IDType = "PASSPORT"
	IDTypeDrivingLicense IDType = "DRIVING_LICENSE"
	IDTypeVoterID        IDType = "VOTER_ID"
	IDTypeNREGAJobCard   IDType = "NREGA_JOB_CARD"
)

var idTypes = map[IDType]struct{}{
	IDTypeAadhaar:        {},
	IDTypePAN:            {},
	IDTypePassport:       {},
	IDTypeDrivingLicense: {},
	IDTypeVoterID:        {},
	IDTypeNREGAJobCard:   {},
}

func (t IDType) String() string { return string(t) }

// IsValid reports whether t belongs to the accepted set.
func (t IDType) IsValid() bool {
	_, ok := idTypes[t]
	return ok
}

// ParseIDType matches raw against the accepted set after trimming. Matching
// is exact on the enumerated names.
func ParseIDType(raw string) (IDType, bool) {
	t := IDType(strings.TrimSpace(raw))
	if !t.IsValid() {
		return "", false
	}
	return t, true
}

package core

import (
	"encoding/json"
	"strings"
)

// Role values that the reconciliation rules treat specially. A blank role is
// read as Member. Any other role string is stored verbatim and takes part in
// neither side of a roster.
const (
	RolePI     = "PI"
	RoleCoPI   = "Co-PI"
	RoleMember = "Member"
	RoleAdmin  = "Admin"
)

// IsPIRole reports whether role owns a roster.
func IsPIRole(role string) bool {
	return role == RolePI || role == RoleCoPI
}

// Collaborator is one row of the directory table. JSON names match the CSV
// column names so the HTTP surface and the stored table share one vocabulary.
type Collaborator struct {
	Index              string           `json:"index"`
	Timestamp          string           `json:"timestamp"`
	PrimaryEmail       string           `json:"primary_email"`
	EmailList          StringList       `json:"email_list"`
	FirstName          string           `json:"first_name"`
	LastName           string           `json:"last_name"`
	MiddleInitial      string           `json:"MI"`
	Degrees            StringList       `json:"degrees"`
	ORCID              string           `json:"orcid"`
	DepartmentList     StringList       `json:"department_list"`
	UniversityList     StringList       `json:"university_list"`
	AddressList        StringList       `json:"address_list"`
	CityList           StringList       `json:"city_list"`
	StateList          StringList       `json:"state_list"`
	CountryList        StringList       `json:"country_list"`
	CohortEnigmaList   StringList       `json:"cohort_enigma_list"`
	CohortOrigList     StringList       `json:"cohort_orig_list"`
	Role               string           `json:"role"`
	PILastNames        StringList       `json:"pi_last_name"`
	ProfilePicture     string           `json:"profile_picture"`
	ActiveMembers      MemberList       `json:"active_members"`
	FormerMembers      MemberList       `json:"former_members"`
	CohortFunding      FundingList      `json:"cohort_funding"`
	CohortContributors ContributionList `json:"cohort_contributors"`
	FundingAck         StringList       `json:"funding_ack"`
	Disclosures        StringList       `json:"disclosures"`
	MembersInitialized bool             `json:"members_initialized"`
	IsActive           bool             `json:"is_active"`
	BlanketOptIn       OptIn            `json:"blanket_opt_in"`
}

// Email returns the lower-cased, trimmed primary email used as lookup key.
func (c *Collaborator) Email() string {
	return normalizeEmail(c.PrimaryEmail)
}

// IsPI reports whether the record owns a roster.
func (c *Collaborator) IsPI() bool {
	return IsPIRole(c.Role)
}

// IsMember reports whether the record follows the member activity rule.
// Legacy rows with no role count as members.
func (c *Collaborator) IsMember() bool {
	return c.Role == RoleMember || strings.TrimSpace(c.Role) == ""
}

// AffiliatedWith reports whether lastName appears in the record's PI list.
func (c *Collaborator) AffiliatedWith(lastName string) bool {
	key := normalizeName(lastName)
	if key == "" {
		return false
	}
	for _, name := range c.PILastNames {
		if normalizeName(name) == key {
			return true
		}
	}
	return false
}

// Ref builds the roster entry describing this record.
func (c *Collaborator) Ref() MemberRef {
	role := c.Role
	if role == "" {
		role = RoleMember
	}
	return MemberRef{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.PrimaryEmail,
		Role:      role,
	}
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c Collaborator) Clone() Collaborator {
	out := c
	out.EmailList = cloneStrings(c.EmailList)
	out.Degrees = cloneStrings(c.Degrees)
	out.DepartmentList = cloneStrings(c.DepartmentList)
	out.UniversityList = cloneStrings(c.UniversityList)
	out.AddressList = cloneStrings(c.AddressList)
	out.CityList = cloneStrings(c.CityList)
	out.StateList = cloneStrings(c.StateList)
	out.CountryList = cloneStrings(c.CountryList)
	out.CohortEnigmaList = cloneStrings(c.CohortEnigmaList)
	out.CohortOrigList = cloneStrings(c.CohortOrigList)
	out.PILastNames = cloneStrings(c.PILastNames)
	out.FundingAck = cloneStrings(c.FundingAck)
	out.Disclosures = cloneStrings(c.Disclosures)
	if c.ActiveMembers != nil {
		out.ActiveMembers = append(MemberList(nil), c.ActiveMembers...)
	}
	if c.FormerMembers != nil {
		out.FormerMembers = append(MemberList(nil), c.FormerMembers...)
	}
	if c.CohortFunding != nil {
		out.CohortFunding = append(FundingList(nil), c.CohortFunding...)
	}
	if c.CohortContributors != nil {
		out.CohortContributors = make(ContributionList, len(c.CohortContributors))
		for i, contribution := range c.CohortContributors {
			out.CohortContributors[i] = contribution.clone()
		}
	}
	return out
}

// MemberRef is a roster entry on a PI record.
type MemberRef struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// CohortFunding is a per-cohort funding acknowledgment.
type CohortFunding struct {
	Cohort  string `json:"cohort"`
	Funding string `json:"funding"`
}

// ContributorMember is one contributor credited on a cohort.
type ContributorMember struct {
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	CreditRoles StringList `json:"credit_roles"`
}

// CohortContribution lists the contributors credited on a cohort.
type CohortContribution struct {
	Cohort  string              `json:"cohort"`
	Members []ContributorMember `json:"members"`
}

func (c CohortContribution) clone() CohortContribution {
	out := CohortContribution{Cohort: c.Cohort}
	if c.Members != nil {
		out.Members = make([]ContributorMember, len(c.Members))
		for i, m := range c.Members {
			m.CreditRoles = cloneStrings(m.CreditRoles)
			out.Members[i] = m
		}
	}
	return out
}

// OptIn is the blanket authorship opt-in. It is stored as "yes" or empty.
type OptIn bool

// ParseOptIn reports whether raw carries a "yes"-prefixed answer.
func ParseOptIn(raw string) OptIn {
	return OptIn(strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "yes"))
}

// String returns the stored form.
func (o OptIn) String() string {
	if o {
		return "yes"
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (o OptIn) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON accepts booleans as well as the stored string form.
func (o *OptIn) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*o = OptIn(t)
	case string:
		*o = ParseOptIn(t)
	default:
		*o = false
	}
	return nil
}

// StringList is a list-valued column of plain strings. Decoding tolerates
// nested arrays, scalars and a single bare string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	if v == nil {
		*l = nil
		return nil
	}
	*l = toStrings(flatten(v))
	return nil
}

// MemberList is a roster column.
type MemberList []MemberRef

// UnmarshalJSON implements json.Unmarshaler.
func (l *MemberList) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	if v == nil {
		*l = nil
		return nil
	}
	*l = toMembers(flatten(v))
	return nil
}

// Emails returns the set of lower-cased emails on the roster.
func (l MemberList) Emails() map[string]struct{} {
	out := make(map[string]struct{}, len(l))
	for _, m := range l {
		if email := normalizeEmail(m.Email); email != "" {
			out[email] = struct{}{}
		}
	}
	return out
}

// Contains reports whether email is on the roster.
func (l MemberList) Contains(email string) bool {
	key := normalizeEmail(email)
	for _, m := range l {
		if normalizeEmail(m.Email) == key {
			return true
		}
	}
	return false
}

// Without returns the roster minus every entry for email.
func (l MemberList) Without(email string) MemberList {
	key := normalizeEmail(email)
	out := make(MemberList, 0, len(l))
	for _, m := range l {
		if normalizeEmail(m.Email) != key {
			out = append(out, m)
		}
	}
	return out
}

// FundingList is the cohort_funding column.
type FundingList []CohortFunding

// UnmarshalJSON implements json.Unmarshaler.
func (l *FundingList) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	if v == nil {
		*l = nil
		return nil
	}
	*l = toFunding(flatten(v))
	return nil
}

// ContributionList is the cohort_contributors column.
type ContributionList []CohortContribution

// UnmarshalJSON implements json.Unmarshaler.
func (l *ContributionList) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	if v == nil {
		*l = nil
		return nil
	}
	*l = toContributions(flatten(v))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func cloneStrings(in StringList) StringList {
	if in == nil {
		return nil
	}
	out := make(StringList, len(in))
	copy(out, in)
	return out
}

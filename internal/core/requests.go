package core

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Optional carries a request field together with whether it was present.
// A JSON null counts as present with the zero value.
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	var zero T
	o.Value = zero
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// Flag is a boolean request field that also accepts textual forms such as
// "TRUE" or "false".
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		*f = Flag(s == "true" || s == "yes" || s == "1")
	case json.Number:
		*f = Flag(t.String() != "0")
	default:
		*f = false
	}
	return nil
}

// IndexValue is a record index supplied as a JSON string or number.
type IndexValue string

// UnmarshalJSON implements json.Unmarshaler.
func (i *IndexValue) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	*i = IndexValue(strings.TrimSpace(scalarString(v)))
	return nil
}

// Institution is one affiliation, spread across the six positional
// institution columns of a record.
type Institution struct {
	Department string `json:"department"`
	University string `json:"university"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
}

// Institutions accepts either a list of institutions or a single object.
type Institutions []Institution

// UnmarshalJSON implements json.Unmarshaler.
func (l *Institutions) UnmarshalJSON(data []byte) error {
	v, err := decodeJSONValue(data)
	if err != nil {
		return err
	}
	var out Institutions
	for _, item := range flatten(v) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Institution{
			Department: scalarString(m["department"]),
			University: scalarString(m["university"]),
			Address:    scalarString(m["address"]),
			City:       scalarString(m["city"]),
			State:      scalarString(m["state"]),
			Country:    scalarString(m["country"]),
		})
	}
	*l = out
	return nil
}

func (l Institutions) applyTo(c *Collaborator) {
	c.DepartmentList = make(StringList, 0, len(l))
	c.UniversityList = make(StringList, 0, len(l))
	c.AddressList = make(StringList, 0, len(l))
	c.CityList = make(StringList, 0, len(l))
	c.StateList = make(StringList, 0, len(l))
	c.CountryList = make(StringList, 0, len(l))
	for _, inst := range l {
		c.DepartmentList = append(c.DepartmentList, inst.Department)
		c.UniversityList = append(c.UniversityList, inst.University)
		c.AddressList = append(c.AddressList, inst.Address)
		c.CityList = append(c.CityList, inst.City)
		c.StateList = append(c.StateList, inst.State)
		c.CountryList = append(c.CountryList, inst.Country)
	}
}

// UpdateRequest is a partial update of one record, addressed by index.
// Only fields that are present are applied.
type UpdateRequest struct {
	Index              IndexValue                 `json:"index"`
	IsActive           Optional[Flag]             `json:"is_active"`
	Emails             Optional[StringList]       `json:"emails"`
	EmailList          Optional[StringList]       `json:"email_list"`
	FirstName          Optional[string]           `json:"first_name"`
	LastName           Optional[string]           `json:"last_name"`
	MiddleInitial      Optional[string]           `json:"MI"`
	ORCID              Optional[string]           `json:"orcid"`
	Role               Optional[string]           `json:"role"`
	ProfilePicture     Optional[string]           `json:"profile_picture"`
	PILastNames        Optional[StringList]       `json:"pi_last_name"`
	BlanketOptIn       Optional[OptIn]            `json:"blanket_opt_in"`
	Degrees            Optional[StringList]       `json:"degrees"`
	CohortEnigmaList   Optional[StringList]       `json:"cohort_enigma_list"`
	CohortOrigList     Optional[StringList]       `json:"cohort_orig_list"`
	ActiveMembers      Optional[MemberList]       `json:"active_members"`
	FormerMembers      Optional[MemberList]       `json:"former_members"`
	Disclosures        Optional[StringList]       `json:"disclosures"`
	Funding            Optional[StringList]       `json:"funding"`
	FundingAck         Optional[StringList]       `json:"funding_ack"`
	CohortContributors Optional[ContributionList] `json:"cohort_contributors"`
	CohortFunding      Optional[FundingList]      `json:"cohort_funding"`
	Institutions       Optional[Institutions]     `json:"institutions"`
}

// restrictedFields clears the admin-only fields and returns their names.
func (r *UpdateRequest) restrictedFields() []string {
	var dropped []string
	if r.Role.Set {
		dropped = append(dropped, ColRole)
		r.Role = Optional[string]{}
	}
	if r.IsActive.Set {
		dropped = append(dropped, ColIsActive)
		r.IsActive = Optional[Flag]{}
	}
	if r.CohortEnigmaList.Set {
		dropped = append(dropped, ColCohortEnigmaList)
		r.CohortEnigmaList = Optional[StringList]{}
	}
	if r.CohortOrigList.Set {
		dropped = append(dropped, ColCohortOrigList)
		r.CohortOrigList = Optional[StringList]{}
	}
	return dropped
}

// emails returns the trimmed, non-blank addresses supplied by the request,
// preferring "emails" over "email_list".
func (r *UpdateRequest) emails() ([]string, bool) {
	switch {
	case r.Emails.Set:
		return cleanEmails(r.Emails.Value), true
	case r.EmailList.Set:
		return cleanEmails(r.EmailList.Value), true
	default:
		return nil, false
	}
}

// DeleteRequest addresses the record to delete by index or email.
type DeleteRequest struct {
	Index IndexValue `json:"index"`
	Email string     `json:"email"`
}

// AddRequest describes a new collaborator.
type AddRequest struct {
	Emails             StringList       `json:"emails"`
	FirstName          string           `json:"first_name"`
	LastName           string           `json:"last_name"`
	MiddleInitial      string           `json:"MI"`
	ORCID              string           `json:"orcid"`
	Degrees            StringList       `json:"degrees"`
	ProfilePicture     string           `json:"profile_picture"`
	Institutions       Institutions     `json:"institutions"`
	Role               string           `json:"role"`
	PILastNames        StringList       `json:"pi_last_name"`
	CohortEnigmaList   StringList       `json:"cohort_enigma_list"`
	CohortOrigList     StringList       `json:"cohort_orig_list"`
	ActiveMembers      MemberList       `json:"active_members"`
	FormerMembers      MemberList       `json:"former_members"`
	Funding            StringList       `json:"funding"`
	Disclosures        StringList       `json:"disclosures"`
	CohortContributors ContributionList `json:"cohort_contributors"`
	CohortFunding      FundingList      `json:"cohort_funding"`
	BlanketOptIn       OptIn            `json:"blanket_opt_in"`
}

func cleanEmails(in []string) []string {
	var out []string
	for _, email := range in {
		if trimmed := strings.TrimSpace(email); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

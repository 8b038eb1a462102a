package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Column names of the collaborators table, in stored order.
const (
	ColIndex              = "index"
	ColTimestamp          = "timestamp"
	ColPrimaryEmail       = "primary_email"
	ColEmailList          = "email_list"
	ColFirstName          = "first_name"
	ColLastName           = "last_name"
	ColMiddleInitial      = "MI"
	ColDegrees            = "degrees"
	ColORCID              = "orcid"
	ColDepartmentList     = "department_list"
	ColUniversityList     = "university_list"
	ColAddressList        = "address_list"
	ColCityList           = "city_list"
	ColStateList          = "state_list"
	ColCountryList        = "country_list"
	ColCohortEnigmaList   = "cohort_enigma_list"
	ColCohortOrigList     = "cohort_orig_list"
	ColRole               = "role"
	ColPILastName         = "pi_last_name"
	ColProfilePicture     = "profile_picture"
	ColActiveMembers      = "active_members"
	ColFormerMembers      = "former_members"
	ColCohortFunding      = "cohort_funding"
	ColCohortContributors = "cohort_contributors"
	ColFundingAck         = "funding_ack"
	ColDisclosures        = "disclosures"
	ColMembersInitialized = "members_initialized"
	ColIsActive           = "is_active"
	ColBlanketOptIn       = "blanket_opt_in"
)

// Columns is the complete, fixed column schema written on every save.
var Columns = []string{
	ColIndex,
	ColTimestamp,
	ColPrimaryEmail,
	ColEmailList,
	ColFirstName,
	ColLastName,
	ColMiddleInitial,
	ColDegrees,
	ColORCID,
	ColDepartmentList,
	ColUniversityList,
	ColAddressList,
	ColCityList,
	ColStateList,
	ColCountryList,
	ColCohortEnigmaList,
	ColCohortOrigList,
	ColRole,
	ColPILastName,
	ColProfilePicture,
	ColActiveMembers,
	ColFormerMembers,
	ColCohortFunding,
	ColCohortContributors,
	ColFundingAck,
	ColDisclosures,
	ColMembersInitialized,
	ColIsActive,
	ColBlanketOptIn,
}

// DecodeRow maps a flat CSV row onto a typed record. It never fails:
// malformed list cells degrade to a single-element list holding the raw text.
func DecodeRow(row map[string]string) Collaborator {
	c := Collaborator{
		Index:              strings.TrimSpace(row[ColIndex]),
		Timestamp:          strings.TrimSpace(row[ColTimestamp]),
		PrimaryEmail:       strings.TrimSpace(row[ColPrimaryEmail]),
		FirstName:          row[ColFirstName],
		LastName:           row[ColLastName],
		MiddleInitial:      row[ColMiddleInitial],
		ORCID:              row[ColORCID],
		Role:               row[ColRole],
		ProfilePicture:     row[ColProfilePicture],
		PILastNames:        decodePINames(row[ColPILastName]),
		MembersInitialized: decodeBool(row[ColMembersInitialized]),
		IsActive:           true,
		BlanketOptIn:       ParseOptIn(row[ColBlanketOptIn]),
	}
	if raw, ok := row[ColIsActive]; ok {
		c.IsActive = decodeBool(raw)
	}

	c.EmailList = toStrings(parseListCell(row[ColEmailList]))
	c.Degrees = toStrings(parseListCell(row[ColDegrees]))
	c.DepartmentList = toStrings(parseListCell(row[ColDepartmentList]))
	c.UniversityList = toStrings(parseListCell(row[ColUniversityList]))
	c.AddressList = toStrings(parseListCell(row[ColAddressList]))
	c.CityList = toStrings(parseListCell(row[ColCityList]))
	c.StateList = toStrings(parseListCell(row[ColStateList]))
	c.CountryList = toStrings(parseListCell(row[ColCountryList]))
	c.CohortEnigmaList = toStrings(parseListCell(row[ColCohortEnigmaList]))
	c.CohortOrigList = toStrings(parseListCell(row[ColCohortOrigList]))
	c.ActiveMembers = toMembers(parseListCell(row[ColActiveMembers]))
	c.FormerMembers = toMembers(parseListCell(row[ColFormerMembers]))
	c.CohortFunding = toFunding(parseListCell(row[ColCohortFunding]))
	c.CohortContributors = toContributions(parseListCell(row[ColCohortContributors]))
	c.FundingAck = toStrings(parseListCell(row[ColFundingAck]))
	c.Disclosures = toStrings(parseListCell(row[ColDisclosures]))
	return c
}

// EncodeRow maps a record onto a flat row holding every column.
func EncodeRow(c Collaborator) map[string]string {
	values := EncodeRecord(c)
	row := make(map[string]string, len(Columns))
	for i, col := range Columns {
		row[col] = values[i]
	}
	return row
}

// EncodeRecord returns the record's cells in Columns order.
func EncodeRecord(c Collaborator) []string {
	names := cleanNames(c.PILastNames)
	return []string{
		strings.TrimSpace(c.Index),
		strings.TrimSpace(c.Timestamp),
		strings.TrimSpace(c.PrimaryEmail),
		encodeList(c.EmailList),
		c.FirstName,
		c.LastName,
		c.MiddleInitial,
		encodeList(c.Degrees),
		c.ORCID,
		encodeList(c.DepartmentList),
		encodeList(c.UniversityList),
		encodeList(c.AddressList),
		encodeList(c.CityList),
		encodeList(c.StateList),
		encodeList(c.CountryList),
		encodeList(c.CohortEnigmaList),
		encodeList(c.CohortOrigList),
		c.Role,
		encodeList(names),
		c.ProfilePicture,
		encodeList(c.ActiveMembers),
		encodeList(c.FormerMembers),
		encodeList(c.CohortFunding),
		encodeList(c.CohortContributors),
		encodeList(c.FundingAck),
		encodeList(c.Disclosures),
		encodeBool(c.MembersInitialized),
		encodeBool(c.IsActive),
		c.BlanketOptIn.String(),
	}
}

func decodeBool(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "TRUE")
}

func encodeBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// parseListCell applies the legacy fallback chain for list cells:
// empty markers, a JSON value, a JSON string holding JSON, then raw text.
func parseListCell(raw string) []any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "[]" || trimmed == "{}" {
		return nil
	}
	v, err := decodeJSONValue([]byte(trimmed))
	if err != nil {
		return []any{trimmed}
	}
	if s, ok := v.(string); ok {
		inner, err := decodeJSONValue([]byte(s))
		if err != nil {
			return []any{s}
		}
		v = inner
	}
	return flatten(v)
}

// decodePINames accepts a JSON list, a JSON string or bare legacy text.
func decodePINames(raw string) StringList {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	v, err := decodeJSONValue([]byte(trimmed))
	if err != nil {
		return StringList{trimmed}
	}
	if v == nil {
		return nil
	}
	return cleanNames(toStrings(flatten(v)))
}

// flatten expands nested arrays depth-first, preserving left-to-right order.
// Non-array values become a single-element list.
func flatten(v any) []any {
	items, ok := v.([]any)
	if !ok {
		return []any{v}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			out = append(out, flatten(nested)...)
			continue
		}
		out = append(out, item)
	}
	return out
}

var errTrailingData = errors.New("unexpected data after JSON value")

func decodeJSONValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return v, nil
}

func encodeList[T any](items []T) string {
	if items == nil {
		items = []T{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "[]"
	}
	return strings.TrimRight(buf.String(), "\n")
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return ""
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

func toStrings(items []any) StringList {
	if len(items) == 0 {
		return nil
	}
	out := make(StringList, 0, len(items))
	for _, item := range items {
		out = append(out, scalarString(item))
	}
	return out
}

func cleanNames(names StringList) StringList {
	var out StringList
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func toMembers(items []any) MemberList {
	var out MemberList
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			out = append(out, MemberRef{
				FirstName: scalarString(t["first_name"]),
				LastName:  scalarString(t["last_name"]),
				Email:     scalarString(t["email"]),
				Role:      scalarString(t["role"]),
			})
		case string:
			if email := strings.TrimSpace(t); strings.Contains(email, "@") {
				out = append(out, MemberRef{Email: email})
			}
		}
	}
	return out
}

func toFunding(items []any) FundingList {
	var out FundingList
	for _, item := range items {
		switch t := item.(type) {
		case nil:
		case map[string]any:
			out = append(out, CohortFunding{
				Cohort:  scalarString(t["cohort"]),
				Funding: scalarString(t["funding"]),
			})
		default:
			out = append(out, CohortFunding{Funding: scalarString(t)})
		}
	}
	return out
}

func toContributions(items []any) ContributionList {
	var out ContributionList
	for _, item := range items {
		switch t := item.(type) {
		case nil:
		case map[string]any:
			contribution := CohortContribution{Cohort: scalarString(t["cohort"])}
			if raw, ok := t["members"]; ok && raw != nil {
				contribution.Members = toContributors(flatten(raw))
			}
			out = append(out, contribution)
		default:
			out = append(out, CohortContribution{Cohort: scalarString(t)})
		}
	}
	return out
}

func toContributors(items []any) []ContributorMember {
	out := make([]ContributorMember, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		member := ContributorMember{
			FirstName: scalarString(m["first_name"]),
			LastName:  scalarString(m["last_name"]),
			Email:     scalarString(m["email"]),
			Role:      scalarString(m["role"]),
		}
		if raw, ok := m["credit_roles"]; ok && raw != nil {
			member.CreditRoles = toStrings(flatten(raw))
		}
		out = append(out, member)
	}
	return out
}

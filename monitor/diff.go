package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/reachforge/outreach/provider"
	"github.com/reachforge/outreach/store"
)

// scalarField is one watched snapshot column. Generic fields alert without
// embedding the values, which covers images and anything too long to read.
type scalarField struct {
	label    string
	priority store.AlertPriority
	before   *string
	after    *string
	generic  bool
}

// diffLead compares a stored lead snapshot against a fresh profile and
// returns one alert per changed field.
func diffLead(row *store.MonitoredLead, p *provider.Profile) []store.Alert {
	alerts := collectScalar(row.ID, row.ReporterUserID, []scalarField{
		{label: "Full Name", priority: store.PriorityMedium, before: row.FullName, after: p.FullName},
		{label: "Profile Image", priority: store.PriorityLow, before: row.ProfileImageURL, after: p.ProfileImageURL, generic: true},
		{label: "HeadLine", priority: store.PriorityMedium, before: row.Headline, after: p.Headline},
		{label: "Location", priority: store.PriorityHigh, before: row.Location, after: p.Location},
		{label: "Job Title", priority: store.PriorityHigh, before: row.LastJobTitle, after: p.JobTitle},
		{label: "Company Name", priority: store.PriorityHigh, before: row.LastCompanyName, after: p.CompanyName},
		{label: "Company Id", priority: store.PriorityHigh, before: row.LastCompanyID, after: p.CompanyID},
	})
	if sliceChanged(row.LastExperience, p.Experience) {
		alerts = append(alerts, genericAlert(row.ID, row.ReporterUserID, "Experience", store.PriorityHigh))
	}
	if sliceChanged(row.LastEducation, p.Education) {
		alerts = append(alerts, genericAlert(row.ID, row.ReporterUserID, "Education", store.PriorityLow))
	}
	return append(alerts, collectScalar(row.ID, row.ReporterUserID, []scalarField{
		{label: "Company Domain", priority: store.PriorityMedium, before: row.LastCompanyDomain, after: p.CompanyDomain},
		{label: "Company Size", priority: store.PriorityLow, before: row.LastCompanySize, after: p.CompanySize},
		{label: "Company Industry", priority: store.PriorityLow, before: row.LastCompanyIndustry, after: p.CompanyIndustry},
	})...)
}

// diffCompany compares a stored company snapshot against a fresh page. The
// counter columns additionally rotate their history inside the store when the
// snapshot is saved.
func diffCompany(row *store.MonitoredCompany, c *provider.Company) []store.Alert {
	alerts := collectScalar(row.ID, row.ReporterUserID, []scalarField{
		{label: "Company Name", priority: store.PriorityHigh, before: row.Name, after: c.Name},
		{label: "Tagline", priority: store.PriorityMedium, before: row.Tagline, after: c.Tagline},
		{label: "Description", priority: store.PriorityMedium, before: row.Description, after: c.Description},
		{label: "Website", priority: store.PriorityMedium, before: row.Website, after: c.Website},
		{label: "Industry", priority: store.PriorityHigh, before: row.Industry, after: c.Industry},
		{label: "Employee Range", priority: store.PriorityMedium, before: row.EmployeeRange, after: c.EmployeeRange},
		{label: "Headquarters City", priority: store.PriorityHigh, before: row.HQCity, after: c.HQCity},
		{label: "Headquarters Country", priority: store.PriorityHigh, before: row.HQCountry, after: c.HQCountry},
		{label: "Company Logo", priority: store.PriorityLow, before: row.LogoURL, after: c.LogoURL, generic: true},
	})
	if countChanged(row.EmployeeCountCurrent, c.EmployeeCount) {
		alerts = append(alerts, countAlert(row.ID, row.ReporterUserID, "Employee Count", store.PriorityMedium, row.EmployeeCountCurrent, c.EmployeeCount))
	}
	if countChanged(row.FollowersCountCurrent, c.FollowersCount) {
		alerts = append(alerts, countAlert(row.ID, row.ReporterUserID, "Followers Count", store.PriorityLow, row.FollowersCountCurrent, c.FollowersCount))
	}
	return alerts
}

func collectScalar(entityID, reporterUserID string, fields []scalarField) []store.Alert {
	var alerts []store.Alert
	for _, f := range fields {
		if !hasRealChange(f.before, f.after) {
			continue
		}
		if f.generic {
			alerts = append(alerts, genericAlert(entityID, reporterUserID, f.label, f.priority))
			continue
		}
		alerts = append(alerts, store.Alert{
			LeadID:         entityID,
			ReporterUserID: reporterUserID,
			Title:          f.label + " Changed",
			Description:    fmt.Sprintf("%s changed from %s to %s", f.label, strOrNull(f.before), strOrNull(f.after)),
			Priority:       f.priority,
			PreviousValue:  f.before,
			UpdatedValue:   f.after,
		})
	}
	return alerts
}

func genericAlert(entityID, reporterUserID, label string, priority store.AlertPriority) store.Alert {
	return store.Alert{
		LeadID:         entityID,
		ReporterUserID: reporterUserID,
		Title:          label + " Changed",
		Description:    label + " changed",
		Priority:       priority,
	}
}

func countAlert(entityID, reporterUserID, label string, priority store.AlertPriority, before, after *int) store.Alert {
	return store.Alert{
		LeadID:         entityID,
		ReporterUserID: reporterUserID,
		Title:          label + " Changed",
		Description:    fmt.Sprintf("%s changed from %s to %s", label, intOrNull(before), intOrNull(after)),
		Priority:       priority,
		PreviousValue:  intPtr(before),
		UpdatedValue:   intPtr(after),
	}
}

// hasRealChange reports a meaningful scalar difference: nil on both sides is
// no change, nil on one side is, otherwise the values decide.
func hasRealChange(before, after *string) bool {
	if before == nil && after == nil {
		return false
	}
	if before == nil || after == nil {
		return true
	}
	return *before != *after
}

func countChanged(before, after *int) bool {
	if before == nil && after == nil {
		return false
	}
	if before == nil || after == nil {
		return true
	}
	return *before != *after
}

// sliceChanged applies structural equality with an empty-or-nil short
// circuit, so an absent list and an empty one compare equal.
func sliceChanged[T any](before, after []T) bool {
	if len(before) == 0 && len(after) == 0 {
		return false
	}
	return !reflect.DeepEqual(before, after)
}

func strOrNull(v *string) string {
	if v == nil {
		return "null"
	}
	return strconv.Quote(*v)
}

func intOrNull(v *int) string {
	if v == nil {
		return "null"
	}
	return strconv.Itoa(*v)
}

func intPtr(v *int) *string {
	if v == nil {
		return nil
	}
	s := strconv.Itoa(*v)
	return &s
}

// profileHash fingerprints an observation so unchanged snapshots can be
// spotted in the row without replaying the diff.
func profileHash(v any) string {
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

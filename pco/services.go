package pco

import (
	"context"
	"net/url"
	"strconv"
)

// Default side-load sets for the Services endpoints.
const (
	DefaultPlansInclude      = "plan_times,needed_positions,team_members"
	DefaultPlanDetailInclude = "plan_times,needed_positions,team_members,team_members.person"
)

// Pagination guards for the service-type walk.
const (
	DefaultServiceTypePageSize = 50
	DefaultServiceTypeMaxPages = 10
)

// ServiceType is the flattened projection of a Services service_type
// resource. Sequence is nil when the upstream omits it; such entries sort
// after everything else during matching.
type ServiceType struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FolderName string `json:"folder_name,omitempty"`
	Sequence   *int   `json:"sequence,omitempty"`
}

// PlanTime is one plan_times side-load, nulls preserved.
type PlanTime struct {
	StartsAt *string `json:"starts_at"`
	EndsAt   *string `json:"ends_at"`
	Name     *string `json:"name"`
}

// NeededPosition is one needed_positions side-load, nulls preserved.
type NeededPosition struct {
	TeamPositionName *string `json:"team_position_name"`
	Quantity         *int    `json:"quantity"`
	AssignedCount    *int    `json:"assigned_count"`
}

// Plan is the flattened projection of a Services plan with its times and
// needed positions denormalized. Dates holds the upstream sort_date, falling
// back to the human-readable dates string; it is what the lexical date filter
// compares against.
type Plan struct {
	ID              string           `json:"id"`
	Dates           string           `json:"dates,omitempty"`
	Title           *string          `json:"title"`
	SeriesTitle     *string          `json:"series_title"`
	Times           []PlanTime       `json:"times"`
	NeededPositions []NeededPosition `json:"needed_positions"`
}

// ListServiceTypes walks the paginated service_types collection, following
// links.next until it is absent or maxPages is reached. The page cap guards
// against an upstream that never stops handing out next links.
func (c *Client) ListServiceTypes(ctx context.Context, pageSize, maxPages int) ([]ServiceType, error) {
	if pageSize <= 0 {
		pageSize = DefaultServiceTypePageSize
	}
	if maxPages <= 0 {
		maxPages = DefaultServiceTypeMaxPages
	}

	target := "/services/v2/service_types"
	query := url.Values{"page[size]": {strconv.Itoa(pageSize)}}

	var out []ServiceType
	for page := 0; page < maxPages; page++ {
		doc, err := c.GetDocument(ctx, target, query)
		if err != nil {
			return nil, err
		}

		resources, err := doc.Resources()
		if err != nil {
			return nil, err
		}
		for _, res := range resources {
			out = append(out, ServiceType{
				ID:         res.ID,
				Name:       attrString(res, "name"),
				FolderName: attrString(res, "folder_name"),
				Sequence:   attrIntPtr(res, "sequence"),
			})
		}

		next := doc.NextLink()
		if next == "" {
			break
		}
		// The next link already encodes page size and offset.
		target, query = next, nil
	}

	return out, nil
}

// PlansForServiceType fetches plans under a service type, include defaulting
// to DefaultPlansInclude. extra carries allow-listed sparse-fieldset
// parameters.
func (c *Client) PlansForServiceType(ctx context.Context, serviceTypeID string, pageSize int, include string, extra url.Values) ([]Plan, error) {
	if include == "" {
		include = DefaultPlansInclude
	}

	query := url.Values{
		"include":    {include},
		"page[size]": {strconv.Itoa(pageSize)},
	}
	for key, values := range extra {
		query[key] = values
	}

	doc, err := c.GetDocument(ctx, "/services/v2/service_types/"+url.PathEscape(serviceTypeID)+"/plans", query)
	if err != nil {
		return nil, err
	}

	return FlattenPlans(doc)
}

// PlanDocument fetches a single plan and returns the raw JSON:API document,
// unflattened.
func (c *Client) PlanDocument(ctx context.Context, planID, include string) (*Document, error) {
	if include == "" {
		include = DefaultPlanDetailInclude
	}

	return c.GetDocument(ctx, "/services/v2/plans/"+url.PathEscape(planID), url.Values{
		"include": {include},
	})
}

// FlattenPlans denormalizes a plans response into Plan projections.
func FlattenPlans(doc *Document) ([]Plan, error) {
	resources, err := doc.Resources()
	if err != nil {
		return nil, err
	}

	idx := BuildIncludedIndex(doc.Included)

	plans := make([]Plan, 0, len(resources))
	for _, res := range resources {
		dates := attrString(res, "sort_date")
		if dates == "" {
			dates = attrString(res, "dates")
		}

		times := []PlanTime{}
		for _, inc := range CollectRelated(res, idx, "plan_times") {
			times = append(times, PlanTime{
				StartsAt: attrStringPtr(inc, "starts_at"),
				EndsAt:   attrStringPtr(inc, "ends_at"),
				Name:     attrStringPtr(inc, "name"),
			})
		}

		positions := []NeededPosition{}
		for _, inc := range CollectRelated(res, idx, "needed_positions") {
			positions = append(positions, NeededPosition{
				TeamPositionName: attrStringPtr(inc, "team_position_name"),
				Quantity:         attrIntPtr(inc, "quantity"),
				AssignedCount:    attrIntPtr(inc, "assigned_count"),
			})
		}

		plans = append(plans, Plan{
			ID:              res.ID,
			Dates:           dates,
			Title:           attrStringPtr(res, "title"),
			SeriesTitle:     attrStringPtr(res, "series_title"),
			Times:           times,
			NeededPositions: positions,
		})
	}
	return plans, nil
}

// FilterPlansByDate keeps plans whose Dates string falls inside [from, to]
// under lexical ISO-date comparison. Empty bounds are open; plans without a
// date always pass.
func FilterPlansByDate(plans []Plan, from, to string) []Plan {
	if from == "" && to == "" {
		return plans
	}

	filtered := make([]Plan, 0, len(plans))
	for _, p := range plans {
		if from != "" && p.Dates != "" && p.Dates < from {
			continue
		}
		if to != "" && p.Dates != "" && p.Dates > to {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

package review

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidStatusFilter is returned by ParseStatusFilter for non-numeric entries.
var ErrInvalidStatusFilter = errors.New("review: invalid status filter")

// DefaultLateMinutes is the reviewing_info threshold when none is given.
const DefaultLateMinutes = 10

// ParseStatusFilter parses a comma-separated status list. The entry "01"
// stands for both NOT_USED and INITIAL_STATE, which the admin UI shows as
// one "not yet requested" bucket.
func ParseStatusFilter(s string) ([]Result, error) {
	var out []Result
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "01" {
			out = append(out, NotUsed, InitialState)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatusFilter, part)
		}
		out = append(out, Result(n))
	}
	return out, nil
}

// LatestQuery filters the admin dashboard listing. Zero-valued filters are ignored.
type LatestQuery struct {
	CustomerID int64

	Statuses []Result
	// FacilityNameTerms must all appear in the facility name.
	FacilityNameTerms []string
	Prefectures       []string
	Municipality      string

	Page        int
	PageSize    int
	LateMinutes int
}

// DeviceSummary is a device row with its facility's display fields.
type DeviceSummary struct {
	ID           int64  `json:"id"`
	ConsoleID    string `json:"device_id"`
	Name         string `json:"device_name"`
	FacilityID   int64  `json:"facility_id"`
	DeviceTypeID int64  `json:"device_type_id"`
	Result       Result `json:"result"`
	FacilityName string `json:"facility_name"`
	Prefecture   string `json:"prefecture"`
	Municipality string `json:"municipality"`
}

// LatestEntry pairs a device with its latest review, if any.
type LatestEntry struct {
	Device       DeviceSummary `json:"device"`
	LatestReview *Review       `json:"latest_review"`
}

// StatusCount counts devices per result under the non-status filters.
type StatusCount struct {
	InitialState int `json:"initial_state"`
	Requesting   int `json:"requesting"`
	Rejected     int `json:"rejected"`
	Approved     int `json:"approved"`
}

// ReviewingInfo summarises outstanding reviews on the page. Current counts
// latest reviews awaiting a decision; Late counts those that have waited
// longer than Minutes.
type ReviewingInfo struct {
	Late    int `json:"late"`
	Current int `json:"current"`
	Minutes int `json:"minutes"`
}

// LatestPage is one page of the dashboard listing.
type LatestPage struct {
	Entries       []LatestEntry
	Total         int
	StatusCount   StatusCount
	ReviewingInfo ReviewingInfo
}

// ListLatest returns a page of the customer's devices with their latest
// reviews, plus per-status counts and the outstanding review summary.
func (s *Store) ListLatest(ctx context.Context, q LatestQuery, now time.Time) (*LatestPage, error) {
	where, args := latestFilters(q, false)
	page := &LatestPage{Entries: []LatestEntry{}}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices d JOIN facilities f ON f.id = d.facility_id WHERE `+where, args...,
	).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("counting devices: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.device_id, d.device_name, d.facility_id, d.device_type_id, d.result,
			f.facility_name, f.prefecture, f.municipality
		 FROM devices d JOIN facilities f ON f.id = d.facility_id
		 WHERE `+where+` ORDER BY d.id ASC LIMIT ? OFFSET ?`,
		append(args, q.PageSize, (q.Page-1)*q.PageSize)...)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var d DeviceSummary
		if err := rows.Scan(&d.ID, &d.ConsoleID, &d.Name, &d.FacilityID, &d.DeviceTypeID, &d.Result,
			&d.FacilityName, &d.Prefecture, &d.Municipality); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		page.Entries = append(page.Entries, LatestEntry{Device: d})
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	latest, err := s.latestByDevice(ctx, ids)
	if err != nil {
		return nil, err
	}

	minutes := q.LateMinutes
	if minutes <= 0 {
		minutes = DefaultLateMinutes
	}
	page.ReviewingInfo.Minutes = minutes
	lateBefore := now.Add(-time.Duration(minutes) * time.Minute)

	for i := range page.Entries {
		r, ok := latest[page.Entries[i].Device.ID]
		if !ok {
			continue
		}
		page.Entries[i].LatestReview = r
		if r.Result == RequestingForReview {
			page.ReviewingInfo.Current++
			if r.CreatedAt.Before(lateBefore) {
				page.ReviewingInfo.Late++
			}
		}
	}

	page.StatusCount, err = s.statusCount(ctx, q)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// latestFilters builds the WHERE clause over devices d joined to facilities f.
func latestFilters(q LatestQuery, skipStatus bool) (string, []any) {
	clauses := []string{"f.customer_id = ?"}
	args := []any{q.CustomerID}

	for _, term := range q.FacilityNameTerms {
		clauses = append(clauses, "instr(f.facility_name, ?) > 0")
		args = append(args, term)
	}
	if len(q.Prefectures) > 0 {
		clauses = append(clauses, "f.prefecture IN ("+placeholders(len(q.Prefectures))+")")
		for _, p := range q.Prefectures {
			args = append(args, p)
		}
	}
	if q.Municipality != "" {
		clauses = append(clauses, "instr(f.municipality, ?) > 0")
		args = append(args, q.Municipality)
	}
	if !skipStatus && len(q.Statuses) > 0 {
		clauses = append(clauses, "d.result IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, st)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) statusCount(ctx context.Context, q LatestQuery) (StatusCount, error) {
	where, args := latestFilters(q, true)
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.result, COUNT(*) FROM devices d JOIN facilities f ON f.id = d.facility_id
		 WHERE `+where+` GROUP BY d.result`, args...)
	if err != nil {
		return StatusCount{}, fmt.Errorf("counting statuses: %w", err)
	}
	defer rows.Close()

	var sc StatusCount
	for rows.Next() {
		var r Result
		var n int
		if err := rows.Scan(&r, &n); err != nil {
			return StatusCount{}, fmt.Errorf("scanning status count: %w", err)
		}
		switch r {
		case InitialState:
			sc.InitialState = n
		case RequestingForReview:
			sc.Requesting = n
		case Rejected:
			sc.Rejected = n
		case Approved:
			sc.Approved = n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCount{}, fmt.Errorf("iterating status counts: %w", err)
	}
	return sc, nil
}

// latestByDevice returns the latest review of each listed device across
// all of its facilities.
func (s *Store) latestByDevice(ctx context.Context, deviceIDs []int64) (map[int64]*Review, error) {
	out := make(map[int64]*Review, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(deviceIDs))
	for i, id := range deviceIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY device_id `+chainOrder+`) AS rn
			FROM reviews WHERE device_id IN (`+placeholders(len(deviceIDs))+`)
		) WHERE rn = 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying latest reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning latest review: %w", err)
		}
		out[r.DeviceID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating latest reviews: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

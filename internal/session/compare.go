package session

import (
	"fmt"
	"reflect"
	"time"

	"github.com/tbalsam/ripple/internal/wire"
)

const dateLayout = "2006-01-02"

// CalendarQueryComparison is the outcome of comparing a session's recorded
// calendar query with the one a client just declared.
type CalendarQueryComparison struct {
	// Difference lists the queries covering entries the client does not
	// have yet. Empty means the new query adds no coverage.
	Difference []wire.CalendarQuery
	// OldCalendarQuery is the query the session had recorded.
	OldCalendarQuery wire.CalendarQuery
	// QueryChanged reports whether the session record needs updating.
	QueryChanged bool
}

// CompareCalendarQueries computes which entry ranges the new query adds over
// the old one. Ranges the new query dropped need no fetch, the client just
// stops displaying them.
func CompareCalendarQueries(oldQuery, newQuery wire.CalendarQuery) CalendarQueryComparison {
	return CalendarQueryComparison{
		Difference:       calendarQueryDifference(oldQuery, newQuery),
		OldCalendarQuery: oldQuery,
		QueryChanged:     !reflect.DeepEqual(oldQuery, newQuery),
	}
}

func calendarQueryDifference(oldQuery, newQuery wire.CalendarQuery) []wire.CalendarQuery {
	if reflect.DeepEqual(oldQuery, newQuery) {
		return nil
	}

	deletedWereIncluded := !hasFilterType(oldQuery.Filters, wire.CalendarFilterNotDeleted)
	deletedAreIncluded := !hasFilterType(newQuery.Filters, wire.CalendarFilterNotDeleted)
	if !deletedWereIncluded && deletedAreIncluded {
		// The new query includes deleted entries and the old one did not.
		// There is no way to express "only deleted entries" as a query, so
		// the whole new range has to be refetched.
		return []wire.CalendarQuery{newQuery}
	}

	oldThreadIDs := filteredThreadIDs(oldQuery.Filters)
	newThreadIDs := filteredThreadIDs(newQuery.Filters)
	if oldThreadIDs != nil && newThreadIDs == nil {
		// The new query covers all threads and the old one was filtered.
		// Particular thread ids cannot be excluded from a query, so the
		// whole new range has to be refetched.
		return []wire.CalendarQuery{newQuery}
	}

	oldStart, oldEnd := mustParseDate(oldQuery.StartDate), mustParseDate(oldQuery.EndDate)
	newStart, newEnd := mustParseDate(newQuery.StartDate), mustParseDate(newQuery.EndDate)

	var difference []wire.CalendarQuery
	if oldThreadIDs != nil && newThreadIDs != nil &&
		!oldStart.After(newEnd) && !oldEnd.Before(newStart) {
		var added []string
		for _, id := range newThreadIDs {
			if !containsString(oldThreadIDs, id) {
				added = append(added, id)
			}
		}
		if len(added) > 0 {
			// New thread ids joined the filter list, so the overlapping
			// date range has to be fetched for just those threads.
			intersectionStart := newQuery.StartDate
			if !oldStart.Before(newStart) {
				intersectionStart = oldQuery.StartDate
			}
			intersectionEnd := newQuery.EndDate
			if !oldEnd.After(newEnd) {
				intersectionEnd = oldQuery.EndDate
			}
			filters := nonThreadFilters(newQuery.Filters)
			filters = append(filters, wire.CalendarFilter{
				Type:      wire.CalendarFilterThreads,
				ThreadIDs: added,
			})
			difference = append(difference, wire.CalendarQuery{
				StartDate: intersectionStart,
				EndDate:   intersectionEnd,
				Filters:   filters,
			})
		}
	}

	if newStart.Before(oldStart) {
		difference = append(difference, wire.CalendarQuery{
			StartDate: newQuery.StartDate,
			EndDate:   oldStart.AddDate(0, 0, -1).Format(dateLayout),
			Filters:   newQuery.Filters,
		})
	}
	if newEnd.After(oldEnd) {
		difference = append(difference, wire.CalendarQuery{
			StartDate: oldEnd.AddDate(0, 0, 1).Format(dateLayout),
			EndDate:   newQuery.EndDate,
			Filters:   newQuery.Filters,
		})
	}
	return difference
}

func hasFilterType(filters []wire.CalendarFilter, filterType string) bool {
	for _, f := range filters {
		if f.Type == filterType {
			return true
		}
	}
	return false
}

// filteredThreadIDs returns the thread-list filter's ids, or nil when the
// query covers all threads.
func filteredThreadIDs(filters []wire.CalendarFilter) []string {
	for _, f := range filters {
		if f.Type == wire.CalendarFilterThreads {
			return f.ThreadIDs
		}
	}
	return nil
}

func nonThreadFilters(filters []wire.CalendarFilter) []wire.CalendarFilter {
	var out []wire.CalendarFilter
	for _, f := range filters {
		if f.Type != wire.CalendarFilterThreads {
			out = append(out, f)
		}
	}
	return out
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

// mustParseDate assumes the query dates already passed wire validation.
func mustParseDate(date string) time.Time {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		panic(fmt.Sprintf("invalid calendar date %q past validation", date))
	}
	return t
}

// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"sort"
	"time"
)

const (
	topIssueLimit = 10
	trendWeeks    = 4
	week          = 7 * 24 * time.Hour
)

// Issue is a recurring feedback title.
type Issue struct {
	Title  string   `json:"title" yaml:"title"`
	Count  int      `json:"count" yaml:"count"`
	Impact Priority `json:"impact" yaml:"impact"`
}

// WeeklyTrend summarises one week of feedback.
type WeeklyTrend struct {
	WeekStart   time.Time `json:"week_start" yaml:"week_start"`
	Submissions int       `json:"submissions" yaml:"submissions"`
	Resolved    int       `json:"resolved" yaml:"resolved"`
	MeanRating  float64   `json:"mean_rating" yaml:"mean_rating"`
}

// Analytics aggregates stored feedback.
type Analytics struct {
	Total              int              `json:"total" yaml:"total"`
	ByType             map[Type]int     `json:"by_type" yaml:"by_type"`
	ByCategory         map[Category]int `json:"by_category" yaml:"by_category"`
	ByPriority         map[Priority]int `json:"by_priority" yaml:"by_priority"`
	ByStatus           map[Status]int   `json:"by_status" yaml:"by_status"`
	MeanResolutionTime time.Duration    `json:"mean_resolution_time" yaml:"mean_resolution_time"`
	SatisfactionScore  float64          `json:"satisfaction_score" yaml:"satisfaction_score"`
	ResolutionRate     float64          `json:"resolution_rate" yaml:"resolution_rate"`
	TopIssues          []Issue          `json:"top_issues" yaml:"top_issues"`
	WeeklyTrends       []WeeklyTrend    `json:"weekly_trends" yaml:"weekly_trends"`
	GeneratedAt        time.Time        `json:"generated_at" yaml:"generated_at"`
}

// Compute aggregates items as of now. SatisfactionScore is the mean rating
// of rated feedback. ResolutionRate is the share of resolved or closed
// feedback, from 0 to 1.
func Compute(items []*Feedback, now time.Time) Analytics {
	a := Analytics{
		Total:       len(items),
		ByType:      make(map[Type]int),
		ByCategory:  make(map[Category]int),
		ByPriority:  make(map[Priority]int),
		ByStatus:    make(map[Status]int),
		GeneratedAt: now,
	}

	var (
		resolvedCount int
		resolutionSum time.Duration
		resolutionN   int
		ratingSum     int
		ratingN       int
		issues        = make(map[string]*Issue)
		issueOrder    []string
	)
	for _, f := range items {
		a.ByType[f.Type]++
		a.ByCategory[f.Category]++
		a.ByPriority[f.Priority]++
		a.ByStatus[f.Status]++

		if f.Status == StatusResolved || f.Status == StatusClosed {
			resolvedCount++
		}
		if f.ResolutionTime > 0 {
			resolutionSum += f.ResolutionTime
			resolutionN++
		}
		if f.Rating > 0 {
			ratingSum += f.Rating
			ratingN++
		}

		if f.Type == TypeErrorReport || f.Type == TypeGeneral {
			is, ok := issues[f.Title]
			if !ok {
				is = &Issue{Title: f.Title, Impact: f.Priority}
				issues[f.Title] = is
				issueOrder = append(issueOrder, f.Title)
			}
			is.Count++
			if f.Priority.Rank() > is.Impact.Rank() {
				is.Impact = f.Priority
			}
		}
	}

	if a.Total > 0 {
		a.ResolutionRate = float64(resolvedCount) / float64(a.Total)
	}
	if resolutionN > 0 {
		a.MeanResolutionTime = resolutionSum / time.Duration(resolutionN)
	}
	if ratingN > 0 {
		a.SatisfactionScore = float64(ratingSum) / float64(ratingN)
	}

	a.TopIssues = make([]Issue, 0, len(issueOrder))
	for _, title := range issueOrder {
		a.TopIssues = append(a.TopIssues, *issues[title])
	}
	sort.SliceStable(a.TopIssues, func(i, j int) bool {
		if a.TopIssues[i].Count != a.TopIssues[j].Count {
			return a.TopIssues[i].Count > a.TopIssues[j].Count
		}
		return a.TopIssues[i].Impact.Rank() > a.TopIssues[j].Impact.Rank()
	})
	if len(a.TopIssues) > topIssueLimit {
		a.TopIssues = a.TopIssues[:topIssueLimit]
	}

	a.WeeklyTrends = weeklyTrends(items, now)
	return a
}

// weeklyTrends buckets the last trendWeeks weeks, oldest first. The last
// bucket ends at now.
func weeklyTrends(items []*Feedback, now time.Time) []WeeklyTrend {
	trends := make([]WeeklyTrend, trendWeeks)
	ratingSums := make([]int, trendWeeks)
	ratingNs := make([]int, trendWeeks)
	start := now.Add(-trendWeeks * week)
	for i := range trends {
		trends[i].WeekStart = start.Add(time.Duration(i) * week)
	}
	bucket := func(t time.Time) int {
		if t.IsZero() || t.Before(start) || t.After(now) {
			return -1
		}
		i := int(t.Sub(start) / week)
		if i >= trendWeeks {
			i = trendWeeks - 1
		}
		return i
	}
	for _, f := range items {
		if i := bucket(f.CreatedAt); i >= 0 {
			trends[i].Submissions++
			if f.Rating > 0 {
				ratingSums[i] += f.Rating
				ratingNs[i]++
			}
		}
		if i := bucket(f.ResolvedAt); i >= 0 {
			trends[i].Resolved++
		}
	}
	for i := range trends {
		if ratingNs[i] > 0 {
			trends[i].MeanRating = float64(ratingSums[i]) / float64(ratingNs[i])
		}
	}
	return trends
}

func (a Analytics) clone() Analytics {
	c := a
	c.ByType = make(map[Type]int, len(a.ByType))
	for k, v := range a.ByType {
		c.ByType[k] = v
	}
	c.ByCategory = make(map[Category]int, len(a.ByCategory))
	for k, v := range a.ByCategory {
		c.ByCategory[k] = v
	}
	c.ByPriority = make(map[Priority]int, len(a.ByPriority))
	for k, v := range a.ByPriority {
		c.ByPriority[k] = v
	}
	c.ByStatus = make(map[Status]int, len(a.ByStatus))
	for k, v := range a.ByStatus {
		c.ByStatus[k] = v
	}
	c.TopIssues = append([]Issue(nil), a.TopIssues...)
	c.WeeklyTrends = append([]WeeklyTrend(nil), a.WeeklyTrends...)
	return c
}

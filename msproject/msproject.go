// Package msproject converts a parsed MS Project XML document into the
// activity and dependency model. It is a boundary converter: it does not
// fetch files or watch directories, it only maps the shapes MS Project
// emits onto the domain, including the vendor's numeric relation codes
// and its lag unit of tenths of a minute.
package msproject

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
)

// lagUnitsPerDay converts LinkLag (tenths of a minute) to working days:
// 8 h x 60 min x 10.
const lagUnitsPerDay = 4800

// Project is the MS Project document root.
type Project struct {
	XMLName xml.Name `xml:"Project"`
	Tasks   Tasks    `xml:"Tasks"`
}

type Tasks struct {
	Task []Task `xml:"Task"`
}

// Task is one MS Project task row.
type Task struct {
	UID             int               `xml:"UID"`
	Name            string            `xml:"Name"`
	WBS             string            `xml:"WBS"`
	OutlineLevel    int               `xml:"OutlineLevel"`
	Duration        string            `xml:"Duration"` // ISO-8601, e.g. PT80H0M0S
	Start           string            `xml:"Start"`
	Finish          string            `xml:"Finish"`
	Milestone       bool              `xml:"Milestone"`
	PercentComplete float64           `xml:"PercentComplete"`
	ConstraintType  int               `xml:"ConstraintType"`
	ConstraintDate  string            `xml:"ConstraintDate"`
	PredecessorLink []PredecessorLink `xml:"PredecessorLink"`
}

// PredecessorLink is one dependency edge; Type uses MS Project codes
// 0=FF, 1=FS, 2=SF, 3=SS and LinkLag is in tenths of minutes.
type PredecessorLink struct {
	PredecessorUID int `xml:"PredecessorUID"`
	Type           int `xml:"Type"`
	LinkLag        int `xml:"LinkLag"`
}

// Parse decodes an MS Project XML document.
func Parse(data []byte) (*Project, error) {
	var doc Project
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Validation("msproject_xml", "malformed MS Project document: "+err.Error())
	}
	return &doc, nil
}

// relationTypes maps MS Project's numeric link codes.
var relationTypes = map[int]model.DependencyType{
	0: model.DependencyFF,
	1: model.DependencyFS,
	2: model.DependencySF,
	3: model.DependencySS,
}

// constraintTypes maps MS Project's numeric constraint codes onto the
// domain constraint set. Codes 0 and 1 (as-soon/late-as-possible
// scheduling) and the must-start/finish-on codes map as follows;
// must-on codes become start/finish-no-earlier to stay representable.
var constraintTypes = map[int]model.ConstraintType{
	0: model.ConstraintASAP,
	1: model.ConstraintALAP,
	2: model.ConstraintSNET, // must start on
	3: model.ConstraintFNET, // must finish on
	4: model.ConstraintSNET,
	5: model.ConstraintSNLT,
	6: model.ConstraintFNET,
	7: model.ConstraintFNLT,
}

// ToActivities converts the document into activities and dependencies
// for one program, one WBS element per import. Durations become whole
// working days (8-hour days, rounded to the nearest day); milestones get
// duration 0 regardless of the stored duration.
func ToActivities(doc *Project, programID, wbsID uuid.UUID) ([]*model.Activity, []*model.Dependency, error) {
	byUID := make(map[int]uuid.UUID, len(doc.Tasks.Task))
	var activities []*model.Activity

	for _, task := range doc.Tasks.Task {
		days, err := durationDays(task.Duration)
		if err != nil {
			return nil, nil, apperrors.Validation("msproject_duration",
				fmt.Sprintf("task %d: %v", task.UID, err))
		}
		if task.Milestone {
			days = 0
		}

		a := &model.Activity{
			ID:              uuid.New(),
			ProgramID:       programID,
			WBSID:           wbsID,
			Code:            fmt.Sprintf("MSP-%d", task.UID),
			Name:            task.Name,
			Duration:        days,
			Milestone:       task.Milestone,
			PercentComplete: task.PercentComplete,
		}
		if ct, ok := constraintTypes[task.ConstraintType]; ok {
			a.Constraint = ct
		} else {
			a.Constraint = model.ConstraintASAP
		}
		if task.ConstraintDate != "" && a.Constraint != model.ConstraintASAP && a.Constraint != model.ConstraintALAP {
			if d, err := parseDate(task.ConstraintDate); err == nil {
				a.ConstraintDate = &d
			}
		}
		if task.Start != "" {
			if d, err := parseDate(task.Start); err == nil {
				a.PlannedStart = &d
			}
		}
		if task.Finish != "" {
			if d, err := parseDate(task.Finish); err == nil {
				a.PlannedFinish = &d
			}
		}
		if err := a.Validate(); err != nil {
			return nil, nil, err
		}
		byUID[task.UID] = a.ID
		activities = append(activities, a)
	}

	var deps []*model.Dependency
	for _, task := range doc.Tasks.Task {
		for _, link := range task.PredecessorLink {
			predID, ok := byUID[link.PredecessorUID]
			if !ok {
				return nil, nil, apperrors.Validation("msproject_link",
					fmt.Sprintf("task %d links to unknown predecessor %d", task.UID, link.PredecessorUID))
			}
			depType, ok := relationTypes[link.Type]
			if !ok {
				return nil, nil, apperrors.Validation("msproject_link",
					fmt.Sprintf("task %d: unknown relation type %d", task.UID, link.Type))
			}
			deps = append(deps, &model.Dependency{
				ID:            uuid.New(),
				ProgramID:     programID,
				PredecessorID: predID,
				SuccessorID:   byUID[task.UID],
				Type:          depType,
				Lag:           link.LinkLag / lagUnitsPerDay,
			})
		}
	}
	return activities, deps, nil
}

// durationDays parses MS Project's ISO-8601 duration (PnDTnHnMnS) into
// whole working days at 8 hours per day. Go's time.ParseDuration does
// not accept this form, so the fields are picked apart by hand.
func durationDays(iso string) (int, error) {
	if iso == "" {
		return 0, nil
	}
	if !strings.HasPrefix(iso, "P") {
		return 0, fmt.Errorf("duration %q does not start with P", iso)
	}
	rest := iso[1:]
	datePart, timePart := rest, ""
	if i := strings.IndexByte(rest, 'T'); i >= 0 {
		datePart, timePart = rest[:i], rest[i+1:]
	}

	var hours float64
	var err error
	if hours, err = accumulate(datePart, map[byte]float64{'Y': 0, 'M': 0, 'W': 5 * 8, 'D': 8}); err != nil {
		return 0, err
	}
	var timeHours float64
	if timeHours, err = accumulate(timePart, map[byte]float64{'H': 1, 'M': 1.0 / 60, 'S': 1.0 / 3600}); err != nil {
		return 0, err
	}
	hours += timeHours

	days := int(hours/8 + 0.5)
	return days, nil
}

// accumulate sums number+designator pairs, weighting each designator by
// its hour factor.
func accumulate(part string, factors map[byte]float64) (float64, error) {
	total := 0.0
	start := 0
	for i := 0; i < len(part); i++ {
		c := part[i]
		if (c >= '0' && c <= '9') || c == '.' {
			continue
		}
		factor, ok := factors[c]
		if !ok {
			return 0, fmt.Errorf("unsupported duration designator %q", string(c))
		}
		if start == i {
			return 0, fmt.Errorf("designator %q without a value", string(c))
		}
		v, err := strconv.ParseFloat(part[start:i], 64)
		if err != nil {
			return 0, err
		}
		total += v * factor
		start = i + 1
	}
	if start != len(part) {
		return 0, fmt.Errorf("trailing digits %q without a designator", part[start:])
	}
	return total, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

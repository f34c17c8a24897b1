package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"aichat-backend/internal/config"
)

const (
	defaultLookaheadDays = 7
	defaultMaxEvents     = 10
)

// NewCalendarTools returns the list and create tools backed by one Calendar client.
func NewCalendarTools(ctx context.Context, cfg config.GoogleToolConfig, opts ...option.ClientOption) ([]tool.BaseTool, error) {
	svc, err := calendar.NewService(ctx, googleOptions(cfg, opts)...)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return []tool.BaseTool{
		&ListEventsTool{svc: svc, calendarID: calendarID, now: time.Now},
		&CreateEventTool{svc: svc, calendarID: calendarID},
	}, nil
}

type ListEventsTool struct {
	svc        *calendar.Service
	calendarID string
	now        func() time.Time
}

type listEventsArgs struct {
	Days       int `json:"days" validate:"omitempty,min=1,max=90"`
	MaxResults int `json:"max_results" validate:"omitempty,min=1,max=50"`
}

type eventView struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
	Link     string `json:"link,omitempty"`
}

func (t *ListEventsTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "list_calendar_events",
		Desc: "Lists upcoming events from the user's calendar, soonest first.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"days": {
				Type: schema.Integer,
				Desc: "How many days ahead to look, 7 by default",
			},
			"max_results": {
				Type: schema.Integer,
				Desc: "Maximum number of events, 10 by default",
			},
		}),
	}, nil
}

func (t *ListEventsTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args listEventsArgs
	if err := parseArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	if args.Days == 0 {
		args.Days = defaultLookaheadDays
	}
	if args.MaxResults == 0 {
		args.MaxResults = defaultMaxEvents
	}

	from := t.now()
	to := from.AddDate(0, 0, args.Days)
	events, err := t.svc.Events.List(t.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(args.MaxResults)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("list calendar events: %w", err)
	}

	views := make([]eventView, 0, len(events.Items))
	for _, e := range events.Items {
		views = append(views, eventView{
			ID:       e.Id,
			Summary:  e.Summary,
			Start:    eventTime(e.Start),
			End:      eventTime(e.End),
			Location: e.Location,
			Link:     e.HtmlLink,
		})
	}
	return jsonResult(map[string]any{"events": views})
}

func eventTime(t *calendar.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

type CreateEventTool struct {
	svc        *calendar.Service
	calendarID string
}

type createEventArgs struct {
	Summary     string   `json:"summary" validate:"required"`
	Start       string   `json:"start" validate:"required"`
	End         string   `json:"end"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Attendees   []string `json:"attendees" validate:"dive,email"`
}

func (t *CreateEventTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "create_calendar_event",
		Desc: "Creates an event in the user's calendar. Times are RFC3339; the event lasts one hour when no end is given.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"summary":     {Type: schema.String, Desc: "Event title", Required: true},
			"start":       {Type: schema.String, Desc: "Start time, RFC3339", Required: true},
			"end":         {Type: schema.String, Desc: "End time, RFC3339"},
			"description": {Type: schema.String, Desc: "Longer description"},
			"location":    {Type: schema.String, Desc: "Where the event takes place"},
			"attendees": {
				Type:     schema.Array,
				Desc:     "Attendee email addresses",
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
		}),
	}, nil
}

func (t *CreateEventTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args createEventArgs
	if err := parseArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}

	start, err := time.Parse(time.RFC3339, args.Start)
	if err != nil {
		return "", fmt.Errorf("start must be RFC3339: %w", err)
	}
	end := start.Add(time.Hour)
	if args.End != "" {
		if end, err = time.Parse(time.RFC3339, args.End); err != nil {
			return "", fmt.Errorf("end must be RFC3339: %w", err)
		}
		if !end.After(start) {
			return "", fmt.Errorf("end %s is not after start %s", args.End, args.Start)
		}
	}

	event := &calendar.Event{
		Summary:     args.Summary,
		Description: args.Description,
		Location:    args.Location,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	for _, a := range args.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: a})
	}

	created, err := t.svc.Events.Insert(t.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	return jsonResult(eventView{
		ID:       created.Id,
		Summary:  created.Summary,
		Start:    eventTime(created.Start),
		End:      eventTime(created.End),
		Location: created.Location,
		Link:     created.HtmlLink,
	})
}

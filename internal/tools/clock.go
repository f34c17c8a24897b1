package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ClockTool reports the current time, optionally in a named IANA zone.
type ClockTool struct {
	now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

type clockArgs struct {
	Timezone string `json:"timezone"`
}

func (t *ClockTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "current_time",
		Desc: "Returns the current date and time. Use it before reasoning about relative dates such as today or next week.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"timezone": {
				Type:     schema.String,
				Desc:     "IANA time zone such as Europe/Paris; UTC when omitted",
				Required: false,
			},
		}),
	}, nil
}

func (t *ClockTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args clockArgs
	if err := parseArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}

	loc := time.UTC
	if args.Timezone != "" {
		l, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", args.Timezone)
		}
		loc = l
	}

	now := t.now().In(loc)
	return jsonResult(map[string]any{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	})
}

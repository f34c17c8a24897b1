package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"aichat-backend/internal/config"
)

// SendEmailTool sends a plain-text message from the authorised Gmail account.
type SendEmailTool struct {
	svc *gmail.Service
}

func NewSendEmailTool(ctx context.Context, cfg config.GoogleToolConfig, opts ...option.ClientOption) (*SendEmailTool, error) {
	svc, err := gmail.NewService(ctx, googleOptions(cfg, opts)...)
	if err != nil {
		return nil, fmt.Errorf("create gmail client: %w", err)
	}
	return &SendEmailTool{svc: svc}, nil
}

type sendEmailArgs struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Cc      []string `json:"cc" validate:"dive,email"`
	Subject string   `json:"subject" validate:"required"`
	Body    string   `json:"body" validate:"required"`
}

func (t *SendEmailTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "send_email",
		Desc: "Sends a plain-text email. Only call it after the user has confirmed recipients and content.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"to": {
				Type:     schema.Array,
				Desc:     "Recipient addresses",
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: true,
			},
			"cc": {
				Type:     schema.Array,
				Desc:     "Carbon copy addresses",
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
			},
			"subject": {Type: schema.String, Desc: "Subject line", Required: true},
			"body":    {Type: schema.String, Desc: "Plain-text body", Required: true},
		}),
	}, nil
}

func (t *SendEmailTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var args sendEmailArgs
	if err := parseArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}

	raw := buildRFC822(args)
	sent, err := t.svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return jsonResult(map[string]any{
		"id":       sent.Id,
		"threadId": sent.ThreadId,
		"to":       args.To,
	})
}

func buildRFC822(args sendEmailArgs) string {
	var b strings.Builder
	b.WriteString("To: " + strings.Join(args.To, ", ") + "\r\n")
	if len(args.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(args.Cc, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + sanitizeHeader(args.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(args.Body)
	return b.String()
}

// sanitizeHeader keeps a model-written value from injecting extra headers.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

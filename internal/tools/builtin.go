package tools

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"
)

// RegisterBuiltins adds the built-in tools to the registry.
func RegisterBuiltins(r *Registry) {
	r.Register(&systemInfoTool{})
	r.Register(&currentTimeTool{})
}

type systemInfoTool struct{}

func (t *systemInfoTool) Name() string        { return "system_info" }
func (t *systemInfoTool) Description() string { return "Report host OS, architecture and CPU count" }

func (t *systemInfoTool) Execute(_ context.Context, _ map[string]string) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("os=%s arch=%s cpus=%d hostname=%s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), hostname), nil
}

type currentTimeTool struct{}

func (t *currentTimeTool) Name() string        { return "current_time" }
func (t *currentTimeTool) Description() string { return "Report the current time in RFC 3339 format" }

func (t *currentTimeTool) Execute(_ context.Context, args map[string]string) (string, error) {
	now := time.Now()
	if tz := args["timezone"]; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", &ToolError{Tool: t.Name(), Message: fmt.Sprintf("unknown timezone %q", tz)}
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC3339), nil
}

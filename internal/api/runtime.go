package api

import (
	"context"

	"github.com/technosupport/ts-ppe/internal/capture"
	"github.com/technosupport/ts-ppe/internal/detect"
	"github.com/technosupport/ts-ppe/internal/monitor"
)

// Runtime is the slice of the supervisor the handlers drive. *monitor.Supervisor
// satisfies it; tests swap in a fake so worker pairs never spin up.
type Runtime interface {
	StartDetection(ctx context.Context, companyID, cameraID string, opts monitor.StartOptions) error
	StopDetection(ctx context.Context, companyID, cameraID string) error
	StopCompany(ctx context.Context, companyID string) int
	PollResult(companyID, cameraID string) (*detect.Result, bool)
	Stream(companyID, cameraID string) (*capture.Slot, <-chan struct{}, bool)
	RuntimeState(companyID, cameraID string) (string, bool)
}

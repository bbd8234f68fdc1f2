package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/technosupport/ts-ppe/internal/audit"
	"github.com/technosupport/ts-ppe/internal/crypto"
	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/metrics"
	"github.com/technosupport/ts-ppe/internal/probe"
)

// CameraStore is the slice of the data layer sync needs.
type CameraStore interface {
	GetByEndpoint(ctx context.Context, companyID, ip string, port int) (*data.Camera, error)
	Create(ctx context.Context, cam *data.Camera) error
	UpdateStatus(ctx context.Context, companyID, id, status string) error
}

type CredentialStore interface {
	Upsert(ctx context.Context, cred *data.CameraCredential) error
}

type Auditor interface {
	WriteEvent(ctx context.Context, evt audit.Event) error
}

var ErrNoNetworkRange = errors.New("network range required")

// Service runs scans and turns candidates into registered cameras. Audit,
// Keyring and Credentials are optional; without them sync still works, it
// just records less.
type Service struct {
	Scanner      *Scanner
	Prober       *probe.Prober
	Cameras      CameraStore
	Credentials  CredentialStore
	Keyring      *crypto.Keyring
	Audit        Auditor
	DefaultRange string
}

func NewService(scanner *Scanner, prober *probe.Prober, cameras CameraStore, auditor Auditor) *Service {
	return &Service{Scanner: scanner, Prober: prober, Cameras: cameras, Audit: auditor}
}

// Discover sweeps the range and returns candidates without touching the
// camera table. A scan cut short by the caller still reports what it found.
func (s *Service) Discover(ctx context.Context, companyID, networkRange string) (*Report, error) {
	networkRange = s.resolveRange(networkRange)
	if networkRange == "" {
		return nil, ErrNoNetworkRange
	}
	report, err := s.Scanner.Scan(ctx, networkRange)
	if err != nil {
		if report == nil {
			metrics.DiscoveryRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		log.Printf("[DISCOVERY] scan of %s cut short: %v", networkRange, err)
		metrics.DiscoveryRuns.WithLabelValues("partial").Inc()
	} else {
		metrics.DiscoveryRuns.WithLabelValues("success").Inc()
	}
	metrics.DiscoveryCamerasFound.Add(float64(len(report.Candidates)))
	s.recordAudit(ctx, companyID, "discovery.scan", networkRange, map[string]any{
		"hosts_scanned": report.HostsScanned,
		"candidates":    len(report.Candidates),
	})
	return report, nil
}

// SyncResult describes what happened to one candidate during a sync.
type SyncResult struct {
	IPAddress string        `json:"ip_address"`
	Port      int           `json:"port"`
	Vendor    string        `json:"vendor"`
	Action    string        `json:"action"`
	CameraID  string        `json:"camera_id,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Probe     *probe.Result `json:"probe,omitempty"`
}

type SyncReport struct {
	Network    string       `json:"network"`
	Scanned    int          `json:"hosts_scanned"`
	Found      int          `json:"found"`
	Added      int          `json:"added"`
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Results    []SyncResult `json:"results"`
	ScanErrors []HostError  `json:"scan_errors,omitempty"`
}

// Sync discovers, probes and registers in one pass. New endpoints are created
// with status discovered; with force, endpoints that already exist are
// re-probed and their status refreshed. Hitting the tenant's camera budget
// skips the remaining candidates instead of aborting the report.
func (s *Service) Sync(ctx context.Context, companyID, networkRange string, force bool) (*SyncReport, error) {
	networkRange = s.resolveRange(networkRange)
	if networkRange == "" {
		return nil, ErrNoNetworkRange
	}
	scan, err := s.Scanner.Scan(ctx, networkRange)
	if err != nil {
		if scan == nil {
			metrics.DiscoveryRuns.WithLabelValues("error").Inc()
			return nil, err
		}
		log.Printf("[DISCOVERY] sync scan of %s cut short: %v", networkRange, err)
		metrics.DiscoveryRuns.WithLabelValues("partial").Inc()
	} else {
		metrics.DiscoveryRuns.WithLabelValues("success").Inc()
	}
	metrics.DiscoveryCamerasFound.Add(float64(len(scan.Candidates)))

	rep := &SyncReport{
		Network:    networkRange,
		Scanned:    scan.HostsScanned,
		Found:      len(scan.Candidates),
		ScanErrors: scan.Errors,
	}

	limitHit := false
	for i := range scan.Candidates {
		cand := scan.Candidates[i]
		res := SyncResult{IPAddress: cand.IPAddress, Port: cand.Port, Vendor: cand.Vendor}

		existing, err := s.Cameras.GetByEndpoint(ctx, companyID, cand.IPAddress, cand.Port)
		switch {
		case err == nil:
			if !force {
				res.Action, res.Detail, res.CameraID = "skipped", "already registered", existing.ID
				rep.Skipped++
				break
			}
			pr := s.Prober.Probe(ctx, sourceFromCandidate(cand))
			status := data.CameraActive
			if !pr.Success {
				status = data.CameraError
			}
			if uerr := s.Cameras.UpdateStatus(ctx, companyID, existing.ID, status); uerr != nil {
				res.Action, res.Detail = "failed", uerr.Error()
				rep.Failed++
				break
			}
			res.Action, res.CameraID, res.Probe = "updated", existing.ID, pr
			rep.Updated++

		case errors.Is(err, data.ErrRecordNotFound):
			if limitHit {
				res.Action, res.Detail = "skipped", "camera limit reached"
				rep.Skipped++
				break
			}
			pr := s.Prober.Probe(ctx, sourceFromCandidate(cand))
			cam := cameraFromCandidate(companyID, cand, pr)
			switch cerr := s.Cameras.Create(ctx, cam); {
			case cerr == nil:
				res.Action, res.CameraID, res.Probe = "added", cam.ID, pr
				rep.Added++
				s.storeDefaultCredential(ctx, cam.ID, cand.Password)
			case errors.Is(cerr, data.ErrCameraLimit):
				limitHit = true
				res.Action, res.Detail = "skipped", "camera limit reached"
				rep.Skipped++
			case errors.Is(cerr, data.ErrDuplicateName):
				res.Action, res.Detail = "skipped", "name already taken"
				rep.Skipped++
			default:
				res.Action, res.Detail = "failed", cerr.Error()
				rep.Failed++
			}

		default:
			res.Action, res.Detail = "failed", err.Error()
			rep.Failed++
		}
		rep.Results = append(rep.Results, res)
	}

	s.recordAudit(ctx, companyID, "discovery.sync", networkRange, map[string]any{
		"found":   rep.Found,
		"added":   rep.Added,
		"updated": rep.Updated,
		"skipped": rep.Skipped,
		"failed":  rep.Failed,
	})
	return rep, nil
}

func (s *Service) resolveRange(networkRange string) string {
	if networkRange != "" {
		return networkRange
	}
	return s.DefaultRange
}

// storeDefaultCredential seals a vendor factory password for a freshly added
// camera. Losing it is not fatal; the operator can set real credentials later.
func (s *Service) storeDefaultCredential(ctx context.Context, cameraID, password string) {
	if password == "" || s.Keyring == nil || s.Credentials == nil {
		return
	}
	kid, wrappedDEK, sealed, err := s.Keyring.SealSecret([]byte(password), []byte(cameraID))
	if err != nil {
		log.Printf("[DISCOVERY] sealing credential for %s failed: %v", cameraID, err)
		return
	}
	cred := &data.CameraCredential{CameraID: cameraID, KID: kid, WrappedDEK: wrappedDEK, Ciphertext: sealed}
	if err := s.Credentials.Upsert(ctx, cred); err != nil {
		log.Printf("[DISCOVERY] storing credential for %s failed: %v", cameraID, err)
	}
}

func (s *Service) recordAudit(ctx context.Context, companyID, action, target string, detail map[string]any) {
	if s.Audit == nil {
		return
	}
	evt := audit.Event{
		CompanyID: companyID,
		Action:    action,
		Target:    target,
		Detail:    audit.Payload(detail),
	}
	if err := s.Audit.WriteEvent(ctx, evt); err != nil {
		log.Printf("[DISCOVERY] audit write failed: %v", err)
	}
}

func sourceFromCandidate(c Candidate) probe.Source {
	return probe.Source{
		Protocol:   c.Protocol,
		IPAddress:  c.IPAddress,
		Port:       c.Port,
		StreamPath: c.StreamPath,
		AuthType:   c.AuthType,
		Username:   c.Username,
		Password:   c.Password,
	}
}

func cameraFromCandidate(companyID string, cand Candidate, pr *probe.Result) *data.Camera {
	cam := &data.Camera{
		ID:         data.NewID("CAM"),
		CompanyID:  companyID,
		Name:       fmt.Sprintf("%s-%s", cand.Vendor, cand.IPAddress),
		IPAddress:  cand.IPAddress,
		Port:       cand.Port,
		Protocol:   cand.Protocol,
		StreamPath: cand.StreamPath,
		AuthType:   cand.AuthType,
		Username:   cand.Username,
		Status:     data.CameraDiscovered,
	}
	if pr != nil && pr.Success {
		cam.ResolutionW, cam.ResolutionH = pr.Width, pr.Height
		if pr.FPS > 0 {
			cam.FPS = int(pr.FPS + 0.5)
		}
	}
	return cam
}

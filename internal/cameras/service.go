// Package cameras manages a tenant's camera inventory: registration against
// the budget, partial updates, credential sealing, live-status listings and
// connection tests. Discovery sweeps live in internal/discovery.
package cameras

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/technosupport/ts-ppe/internal/audit"
	"github.com/technosupport/ts-ppe/internal/data"
	"github.com/technosupport/ts-ppe/internal/probe"
)

// DefaultFPS is assumed when a camera is registered without a rate.
const DefaultFPS = 15

// CameraStore is the slice of the data layer this service needs.
type CameraStore interface {
	Create(ctx context.Context, c *data.Camera) error
	GetByID(ctx context.Context, companyID, id string) (*data.Camera, error)
	List(ctx context.Context, companyID, status string) ([]*data.Camera, error)
	Update(ctx context.Context, c *data.Camera) error
	UpdateStatus(ctx context.Context, companyID, id, status string) error
	SoftDelete(ctx context.Context, companyID, id string) error
}

type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*data.Company, error)
}

type CredentialStore interface {
	Upsert(ctx context.Context, cred *data.CameraCredential) error
	Delete(ctx context.Context, cameraID string) error
}

// RuntimeControl is the supervisor surface: deleted or deactivated cameras
// must not keep a pipeline alive, and listings show the live state.
type RuntimeControl interface {
	StopDetection(ctx context.Context, companyID, cameraID string) error
	RuntimeState(companyID, cameraID string) (string, bool)
}

type Prober interface {
	Probe(ctx context.Context, src probe.Source) *probe.Result
}

type Auditor interface {
	WriteEvent(ctx context.Context, evt audit.Event) error
}

type Keyring interface {
	SealSecret(secret, aad []byte) (kid string, wrappedDEK, sealed []byte, err error)
}

// Service wires the camera operations together. Runtime, Credentials,
// Keyring and Audit are optional; a missing credential path only costs the
// stored stream password.
type Service struct {
	Cameras     CameraStore
	Companies   CompanyStore
	Credentials CredentialStore
	Keyring     Keyring
	Runtime     RuntimeControl
	Prober      Prober
	Audit       Auditor
}

func NewService(cameras CameraStore, companies CompanyStore, prober Prober) *Service {
	return &Service{Cameras: cameras, Companies: companies, Prober: prober}
}

// Input is the camera registration form. Password is sealed into the
// credential table and never stored on the camera row.
type Input struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	IPAddress   string `json:"ip_address"`
	Port        int    `json:"port"`
	Protocol    string `json:"protocol"`
	StreamPath  string `json:"stream_path"`
	AuthType    string `json:"auth_type"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ResolutionW int    `json:"resolution_w"`
	ResolutionH int    `json:"resolution_h"`
	FPS         int    `json:"fps"`
}

// Add registers a camera under the tenant's budget. The row starts inactive;
// detection is started explicitly.
func (s *Service) Add(ctx context.Context, companyID, actorID string, in Input) (*data.Camera, error) {
	cam := &data.Camera{
		ID:          data.NewID("CAM"),
		CompanyID:   companyID,
		Name:        in.Name,
		Location:    in.Location,
		IPAddress:   in.IPAddress,
		Port:        in.Port,
		Protocol:    in.Protocol,
		StreamPath:  in.StreamPath,
		AuthType:    in.AuthType,
		Username:    in.Username,
		ResolutionW: in.ResolutionW,
		ResolutionH: in.ResolutionH,
		FPS:         in.FPS,
		Status:      data.CameraInactive,
	}
	if err := validate(cam); err != nil {
		return nil, err
	}
	if err := s.Cameras.Create(ctx, cam); err != nil {
		return nil, err
	}
	if in.Password != "" {
		s.sealPassword(ctx, cam.ID, in.Password)
	}
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "camera.create",
		Target:    cam.ID,
		Detail:    audit.Payload(map[string]any{"name": cam.Name, "protocol": cam.Protocol, "endpoint": cam.IPAddress}),
	})
	return cam, nil
}

// UpdateInput patches a camera. Nil means unchanged; an empty Password
// pointer clears the stored credential.
type UpdateInput struct {
	Name        *string `json:"name"`
	Location    *string `json:"location"`
	IPAddress   *string `json:"ip_address"`
	Port        *int    `json:"port"`
	Protocol    *string `json:"protocol"`
	StreamPath  *string `json:"stream_path"`
	AuthType    *string `json:"auth_type"`
	Username    *string `json:"username"`
	Password    *string `json:"password"`
	ResolutionW *int    `json:"resolution_w"`
	ResolutionH *int    `json:"resolution_h"`
	FPS         *int    `json:"fps"`
	Status      *string `json:"status"`
}

// Update applies a partial edit. Deactivating a camera tears its pipeline
// down; activation only changes the row, starting detection stays explicit.
func (s *Service) Update(ctx context.Context, companyID, actorID, cameraID string, in UpdateInput) (*data.Camera, error) {
	cam, err := s.Cameras.GetByID(ctx, companyID, cameraID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		cam.Name = *in.Name
	}
	if in.Location != nil {
		cam.Location = *in.Location
	}
	if in.IPAddress != nil {
		cam.IPAddress = *in.IPAddress
	}
	if in.Port != nil {
		cam.Port = *in.Port
	}
	if in.Protocol != nil {
		cam.Protocol = *in.Protocol
	}
	if in.StreamPath != nil {
		cam.StreamPath = *in.StreamPath
	}
	if in.AuthType != nil {
		cam.AuthType = *in.AuthType
	}
	if in.Username != nil {
		cam.Username = *in.Username
	}
	if in.ResolutionW != nil {
		cam.ResolutionW = *in.ResolutionW
	}
	if in.ResolutionH != nil {
		cam.ResolutionH = *in.ResolutionH
	}
	if in.FPS != nil {
		cam.FPS = *in.FPS
	}
	if err := validate(cam); err != nil {
		return nil, err
	}

	newStatus := ""
	if in.Status != nil && *in.Status != cam.Status {
		switch *in.Status {
		case data.CameraActive, data.CameraInactive:
			newStatus = *in.Status
		default:
			return nil, data.Invalid("status", "only active or inactive can be set")
		}
	}

	if err := s.Cameras.Update(ctx, cam); err != nil {
		return nil, err
	}
	if newStatus != "" {
		if err := s.Cameras.UpdateStatus(ctx, companyID, cameraID, newStatus); err != nil {
			return nil, err
		}
		cam.Status = newStatus
	}
	if cam.Status == data.CameraInactive {
		s.stopRuntime(ctx, companyID, cameraID)
	}

	if in.Password != nil {
		if *in.Password == "" {
			s.dropCredential(ctx, cameraID)
		} else {
			s.sealPassword(ctx, cameraID, *in.Password)
		}
	}

	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "camera.update",
		Target:    cameraID,
	})
	return cam, nil
}

// Delete soft-deletes the row, stops any live pipeline and discards the
// sealed credential.
func (s *Service) Delete(ctx context.Context, companyID, actorID, cameraID string) error {
	s.stopRuntime(ctx, companyID, cameraID)
	if err := s.Cameras.SoftDelete(ctx, companyID, cameraID); err != nil {
		return err
	}
	s.dropCredential(ctx, cameraID)
	s.recordAudit(ctx, audit.Event{
		CompanyID: companyID,
		UserID:    actorID,
		Action:    "camera.delete",
		Target:    cameraID,
	})
	return nil
}

// View is the camera as handlers serialize it. The stored password never
// appears; Live is the supervisor's state for the camera, if any.
type View struct {
	ID            string     `json:"camera_id"`
	Name          string     `json:"name"`
	Location      string     `json:"location,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	Port          int        `json:"port,omitempty"`
	Protocol      string     `json:"protocol"`
	StreamPath    string     `json:"stream_path,omitempty"`
	AuthType      string     `json:"auth_type"`
	Username      string     `json:"username,omitempty"`
	ResolutionW   int        `json:"resolution_w,omitempty"`
	ResolutionH   int        `json:"resolution_h,omitempty"`
	FPS           int        `json:"fps"`
	Status        string     `json:"status"`
	Live          string     `json:"live_state,omitempty"`
	LastDetection *time.Time `json:"last_detection,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Summary is the header block of a camera listing.
type Summary struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Inactive   int `json:"inactive"`
	Errored    int `json:"errored"`
	Discovered int `json:"discovered"`
	Running    int `json:"running"`
	Budget     int `json:"budget"`
}

type ListResult struct {
	Cameras []View  `json:"cameras"`
	Summary Summary `json:"summary"`
}

// List returns the tenant's non-deleted cameras with the live runtime state
// overlaid, plus counts against the budget.
func (s *Service) List(ctx context.Context, companyID string) (*ListResult, error) {
	rows, err := s.Cameras.List(ctx, companyID, "")
	if err != nil {
		return nil, err
	}
	company, err := s.Companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}

	out := &ListResult{Cameras: make([]View, 0, len(rows))}
	out.Summary.Budget = company.MaxCameras
	for _, cam := range rows {
		v := viewOf(cam)
		if s.Runtime != nil {
			if state, ok := s.Runtime.RuntimeState(companyID, cam.ID); ok {
				v.Live = state
				out.Summary.Running++
			}
		}
		out.Summary.Total++
		switch cam.Status {
		case data.CameraActive:
			out.Summary.Active++
		case data.CameraInactive:
			out.Summary.Inactive++
		case data.CameraError:
			out.Summary.Errored++
		case data.CameraDiscovered:
			out.Summary.Discovered++
		}
		out.Cameras = append(out.Cameras, v)
	}
	return out, nil
}

// TestConnection probes an unsaved camera configuration. Probe failures come
// back inside the Result, not as an error.
func (s *Service) TestConnection(ctx context.Context, companyID string, src probe.Source) (*probe.Result, error) {
	if src.Protocol == "" {
		src.Protocol = "http"
	}
	if !data.IsCameraProtocol(src.Protocol) {
		return nil, data.Invalid("protocol", "unknown protocol")
	}
	switch src.Protocol {
	case "local", "usb":
		if src.StreamPath == "" {
			return nil, data.Invalid("stream_path", "required for local sources")
		}
	default:
		if src.IPAddress == "" {
			return nil, data.Invalid("ip_address", "required")
		}
		if src.Port == 0 {
			src.Port = defaultPortFor(src.Protocol)
		}
	}
	return s.Prober.Probe(ctx, src), nil
}

// validate checks a fully assembled camera row and fills protocol-dependent
// defaults. The returned error names the first failing field.
func validate(cam *data.Camera) error {
	cam.Name = strings.TrimSpace(cam.Name)
	if cam.Name == "" {
		return data.Invalid("name", "required")
	}
	if len(cam.Name) > 100 {
		return data.Invalid("name", "at most 100 characters")
	}
	if cam.Protocol == "" {
		cam.Protocol = "http"
	}
	if !data.IsCameraProtocol(cam.Protocol) {
		return data.Invalid("protocol", "unknown protocol")
	}
	if cam.AuthType == "" {
		cam.AuthType = "none"
	}
	if !data.IsCameraAuthType(cam.AuthType) {
		return data.Invalid("auth_type", "unknown auth type")
	}

	switch cam.Protocol {
	case "local", "usb":
		if cam.StreamPath == "" {
			return data.Invalid("stream_path", "required for local sources")
		}
	default:
		if cam.IPAddress == "" {
			return data.Invalid("ip_address", "required for networked cameras")
		}
		if cam.Port == 0 {
			cam.Port = defaultPortFor(cam.Protocol)
		}
		if cam.Port < 1 || cam.Port > 65535 {
			return data.Invalid("port", "out of range")
		}
	}
	if cam.AuthType != "none" && cam.Username == "" {
		return data.Invalid("username", "required for authenticated cameras")
	}

	if cam.FPS == 0 {
		cam.FPS = DefaultFPS
	}
	if cam.FPS < 1 || cam.FPS > 60 {
		return data.Invalid("fps", "must be between 1 and 60")
	}
	if (cam.ResolutionW == 0) != (cam.ResolutionH == 0) {
		return data.Invalid("resolution", "width and height go together")
	}
	if cam.ResolutionW < 0 || cam.ResolutionW > 7680 || cam.ResolutionH < 0 || cam.ResolutionH > 4320 {
		return data.Invalid("resolution", "out of range")
	}
	return nil
}

func defaultPortFor(protocol string) int {
	switch protocol {
	case "rtsp":
		return 554
	case "ip_webcam":
		return 8080
	default:
		return 80
	}
}

func viewOf(cam *data.Camera) View {
	return View{
		ID:            cam.ID,
		Name:          cam.Name,
		Location:      cam.Location,
		IPAddress:     cam.IPAddress,
		Port:          cam.Port,
		Protocol:      cam.Protocol,
		StreamPath:    cam.StreamPath,
		AuthType:      cam.AuthType,
		Username:      cam.Username,
		ResolutionW:   cam.ResolutionW,
		ResolutionH:   cam.ResolutionH,
		FPS:           cam.FPS,
		Status:        cam.Status,
		LastDetection: cam.LastDetection,
		CreatedAt:     cam.CreatedAt,
		UpdatedAt:     cam.UpdatedAt,
	}
}

func (s *Service) stopRuntime(ctx context.Context, companyID, cameraID string) {
	if s.Runtime == nil {
		return
	}
	// Not running is the common case and not an error here.
	if err := s.Runtime.StopDetection(ctx, companyID, cameraID); err == nil {
		log.Printf("[CAMERAS] stopped pipeline for %s", cameraID)
	}
}

func (s *Service) recordAudit(ctx context.Context, evt audit.Event) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.WriteEvent(ctx, evt); err != nil {
		log.Printf("[CAMERAS] audit write failed: %v", err)
	}
}

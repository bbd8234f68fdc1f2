package discovery

import "strings"

// VendorProfile fingerprints one camera brand family. Header and body markers
// are matched case insensitively as substrings; probe paths are vendor
// endpoints that answer even when the landing page gives nothing away.
// Credentials are the vendor's factory defaults and are never treated as
// verified.
type VendorProfile struct {
	Vendor      string
	Ports       []int
	HeaderMarks []string
	BodyMarks   []string
	ProbePaths  []string
	RTSPPath    string
	HTTPPath    string
	Protocol    string
	AuthType    string
	DefaultUser string
	DefaultPass string
	Features    []string
}

// builtinProfiles is ordered most specific first; the first matching profile
// wins a tie.
var builtinProfiles = []VendorProfile{
	{
		Vendor:      "hikvision",
		Ports:       []int{80, 8000, 554},
		HeaderMarks: []string{"hikvision", "dnvrs", "dvrdvs"},
		BodyMarks:   []string{"hikvision", "doc/page/login.asp"},
		ProbePaths:  []string{"/ISAPI/System/deviceInfo", "/doc/page/login.asp"},
		RTSPPath:    "/Streaming/Channels/101",
		Protocol:    "rtsp",
		AuthType:    "digest",
		DefaultUser: "admin",
		DefaultPass: "12345",
		Features:    []string{"rtsp", "ptz"},
	},
	{
		Vendor:      "dahua",
		Ports:       []int{80, 554},
		HeaderMarks: []string{"dahua", "dh_web", "dhttpd"},
		BodyMarks:   []string{"dahua"},
		ProbePaths:  []string{"/cgi-bin/magicBox.cgi?action=getDeviceType", "/RPC2_Login"},
		RTSPPath:    "/cam/realmonitor?channel=1&subtype=0",
		Protocol:    "rtsp",
		AuthType:    "digest",
		DefaultUser: "admin",
		DefaultPass: "admin",
		Features:    []string{"rtsp", "ptz"},
	},
	{
		Vendor:      "axis",
		Ports:       []int{80, 554},
		HeaderMarks: []string{"axis"},
		BodyMarks:   []string{"axis"},
		ProbePaths:  []string{"/axis-cgi/param.cgi?action=list&group=Brand"},
		RTSPPath:    "/axis-media/media.amp",
		HTTPPath:    "/axis-cgi/mjpg/video.cgi",
		Protocol:    "rtsp",
		AuthType:    "digest",
		DefaultUser: "root",
		DefaultPass: "pass",
		Features:    []string{"rtsp", "mjpeg", "ptz"},
	},
	{
		Vendor:      "foscam",
		Ports:       []int{88, 80, 554},
		HeaderMarks: []string{"netwave", "foscam"},
		BodyMarks:   []string{"foscam"},
		ProbePaths:  []string{"/cgi-bin/CGIProxy.fcgi?cmd=getDevState"},
		RTSPPath:    "/videoMain",
		Protocol:    "rtsp",
		AuthType:    "basic",
		DefaultUser: "admin",
		Features:    []string{"rtsp"},
	},
	{
		Vendor:      "ip_webcam",
		Ports:       []int{8080},
		HeaderMarks: []string{"ip webcam"},
		BodyMarks:   []string{"ip webcam", "/shot.jpg"},
		ProbePaths:  []string{"/shot.jpg", "/status.json"},
		HTTPPath:    "/video",
		Protocol:    "ip_webcam",
		AuthType:    "none",
		Features:    []string{"mjpeg"},
	},
	{
		Vendor:     "generic",
		Ports:      []int{80, 88, 554, 8000, 8080},
		ProbePaths: []string{"/video", "/mjpg/video.mjpg", "/snapshot.jpg"},
		RTSPPath:   "/",
		HTTPPath:   "/video",
		Protocol:   "rtsp",
		AuthType:   "none",
	},
}

func (p *VendorProfile) matchesHeader(server string) bool {
	return matchAny(server, p.HeaderMarks)
}

func (p *VendorProfile) matchesBody(body string) bool {
	return matchAny(body, p.BodyMarks)
}

func matchAny(haystack string, marks []string) bool {
	if haystack == "" {
		return false
	}
	for _, m := range marks {
		if m != "" && containsFold(haystack, m) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

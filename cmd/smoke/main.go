// Command smoke walks a live server through the whole tenant lifecycle:
// register, log in, add a camera, run detection over a generated frame,
// read the results back and tear the account down again. Exit code 0 means
// every step answered as documented.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type stepClient struct {
	base   string
	token  string
	client *http.Client
}

func main() {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	keep := flag.Bool("keep", false, "leave the smoke company in place afterwards")
	wait := flag.Duration("wait", 20*time.Second, "how long to wait for detection results")
	flag.Parse()

	c := &stepClient{base: *base, client: &http.Client{Timeout: 10 * time.Second}}

	// 1. Server up?
	var health map[string]any
	c.do("GET", "/health", nil, &health, http.StatusOK, http.StatusServiceUnavailable)
	log.Printf("1. health: %v", health["status"])

	// 2. Register a throwaway company. The timestamp keeps the email unique
	// across runs that skipped cleanup.
	stamp := time.Now().UnixNano()
	email := fmt.Sprintf("smoke-%d@example.test", stamp)
	var reg struct {
		CompanyID string `json:"company_id"`
		AdminID   string `json:"admin_id"`
	}
	c.do("POST", "/api/register", map[string]any{
		"company_name": fmt.Sprintf("Smoke Run %d", stamp),
		"email":        email,
		"password":     "smoke-pass-1",
		"sector":       "construction",
	}, &reg, http.StatusCreated)
	log.Printf("2. registered %s", reg.CompanyID)

	// 3. Login.
	var login struct {
		Token string `json:"token"`
	}
	c.do("POST", "/company/"+reg.CompanyID+"/login", map[string]any{
		"email": email, "password": "smoke-pass-1",
	}, &login, http.StatusOK)
	if login.Token == "" {
		log.Fatal("3. login answered without a token")
	}
	c.token = login.Token
	log.Print("3. logged in")

	// 4. Dashboard answers for the fresh tenant.
	var stats map[string]any
	c.do("GET", "/api/company/"+reg.CompanyID+"/stats", nil, &stats, http.StatusOK)
	log.Print("4. stats ok")

	// 5. Add a file-backed camera so the capture loop has frames without
	// any hardware on the network.
	framePath, err := writeFrame()
	if err != nil {
		log.Fatalf("5. frame write failed: %v", err)
	}
	defer os.Remove(framePath)
	var created struct {
		CameraID string `json:"camera_id"`
	}
	c.do("POST", "/api/company/"+reg.CompanyID+"/cameras", map[string]any{
		"name":        "Smoke Cam",
		"location":    "synthetic",
		"protocol":    "local",
		"stream_path": framePath,
		"fps":         5,
	}, &created, http.StatusCreated)
	log.Printf("5. camera %s", created.CameraID)

	// 6. Start detection in simulation mode.
	c.do("POST", "/api/company/"+reg.CompanyID+"/start-detection", map[string]any{
		"camera": created.CameraID,
		"mode":   "simulation",
	}, nil, http.StatusOK)
	log.Print("6. detection started")

	// 7. Poll until a result shows up.
	deadline := time.Now().Add(*wait)
	var result map[string]any
	for {
		c.do("GET", "/api/company/"+reg.CompanyID+"/detection-results/"+created.CameraID, nil, &result, http.StatusOK)
		if _, ok := result["people_detected"]; ok {
			break
		}
		if time.Now().After(deadline) {
			log.Fatalf("7. no detection result within %s", *wait)
		}
		time.Sleep(time.Second)
	}
	log.Printf("7. result: %v people, compliance %v", result["people_detected"], result["compliance_rate"])

	// 8. Violations list answers (may legitimately be empty).
	var viol struct {
		Violations []map[string]any `json:"violations"`
	}
	c.do("GET", "/api/company/"+reg.CompanyID+"/violations?limit=5", nil, &viol, http.StatusOK)
	log.Printf("8. %d violations on record", len(viol.Violations))

	// 9. Stop detection.
	var stopped map[string]any
	c.do("POST", "/api/company/"+reg.CompanyID+"/stop-detection", nil, &stopped, http.StatusOK)
	log.Printf("9. stopped %v camera(s)", stopped["cameras"])

	// 10. Tear down.
	if *keep {
		log.Printf("10. keeping %s (login: %s / smoke-pass-1)", reg.CompanyID, email)
	} else {
		c.do("DELETE", "/api/company/"+reg.CompanyID+"/account", nil, nil, http.StatusOK)
		log.Print("10. account deleted")
	}

	log.Print("SMOKE PASS")
}

// do runs one request and decodes the body into out when it is non-nil.
// Any status outside accept aborts the run with the response body in the
// failure message.
func (c *stepClient) do(method, path string, payload any, out any, accept ...int) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	for _, code := range accept {
		if resp.StatusCode == code {
			if out != nil {
				if err := json.Unmarshal(raw, out); err != nil {
					log.Fatalf("%s %s: bad body: %v: %s", method, path, err, raw)
				}
			}
			return
		}
	}
	log.Fatalf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
}

// writeFrame renders a flat gray 320x240 JPEG for the file source to loop.
func writeFrame() (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 95, B: 100, A: 255})
		}
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("ppe-smoke-%d.jpg", os.Getpid()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

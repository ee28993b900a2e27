package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/models"
	"golang.org/x/sync/errgroup"
)

// City is a named trip endpoint.
type City struct {
	Name string
	models.Location
}

// Cities for realistic routes
var cities = []City{
	{"Mumbai", models.Location{Lat: 19.0760, Lon: 72.8777}},
	{"Pune", models.Location{Lat: 18.5204, Lon: 73.8567}},
	{"Nashik", models.Location{Lat: 19.9975, Lon: 73.7898}},
	{"Surat", models.Location{Lat: 21.1702, Lon: 72.8311}},
	{"Ahmedabad", models.Location{Lat: 23.0225, Lon: 72.5714}},
	{"Nagpur", models.Location{Lat: 21.1458, Lon: 79.0882}},
	{"Hyderabad", models.Location{Lat: 17.3850, Lon: 78.4867}},
	{"Bengaluru", models.Location{Lat: 12.9716, Lon: 77.5946}},
	{"Chennai", models.Location{Lat: 13.0827, Lon: 80.2707}},
	{"Goa", models.Location{Lat: 15.2993, Lon: 74.1240}},
	{"Indore", models.Location{Lat: 22.7196, Lon: 75.8577}},
	{"Jaipur", models.Location{Lat: 26.9124, Lon: 75.7873}},
	{"Delhi", models.Location{Lat: 28.7041, Lon: 77.1025}},
}

// average road speed used to derive trip ETAs
const avgSpeedKmh = 45.0

// roadFactor converts great-circle distance into an approximate road distance
const roadFactor = 1.25

var vehicleCatalog = map[models.VehicleType][]string{
	models.VehicleTypeCar:       {"Maruti Ertiga", "Toyota Innova", "Mahindra XUV500"},
	models.VehicleTypeMiniTruck: {"Tata Ace", "Mahindra Jeeto", "Ashok Leyland Dost"},
	models.VehicleTypeTruck:     {"Tata Signa 4825", "BharatBenz 1617R", "Eicher Pro 3015"},
}

var driverNames = []string{"Meera", "Arjun", "Kavya", "Rohan", "Anita", "Vikram", "Sana", "Farhan", "Isha", "Dev"}

func haversineKm(a, b models.Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

// apiClient talks to the fleet API as a single authenticated user.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

// authorizedPost posts body as JSON and decodes a 2xx response into out.
func (c *apiClient) authorizedPost(ctx context.Context, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s failed with status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if failed := resp.Header.Get("X-Follow-Up-Failed"); failed != "" {
		log.WithFields(log.Fields{"path": path, "follow_up": failed}).Warn("Transition applied but follow-up failed")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type created struct {
	ID string `json:"id"`
}

func createDriver(ctx context.Context, c *apiClient, n int, vtype models.VehicleType) (string, error) {
	name := driverNames[n%len(driverNames)]
	driver := map[string]interface{}{
		"name":              fmt.Sprintf("%s %d", name, n+1),
		"age":               25 + n%30,
		"mobileNumber":      fmt.Sprintf("+9198%08d", 10000+n),
		"email":             fmt.Sprintf("sim.driver%d@example.com", n+1),
		"licenseID":         fmt.Sprintf("SIM-%04d", n+1),
		"vehicleType":       []models.VehicleType{vtype},
		"experienceInYears": n % 12,
	}
	var out created
	if err := c.authorizedPost(ctx, "/drivers", driver, &out); err != nil {
		return "", fmt.Errorf("failed to create driver: %w", err)
	}
	return out.ID, nil
}

func createVehicle(ctx context.Context, c *apiClient, rng *rand.Rand, vtype models.VehicleType) (string, error) {
	names := vehicleCatalog[vtype]
	vehicle := map[string]interface{}{
		"vehicleName": names[rng.Intn(len(names))],
		"year":        2018 + rng.Intn(7),
		"vehicleType": vtype,
		"vin":         fmt.Sprintf("SIM%014d", rng.Int63n(1e14)),
	}
	var out created
	if err := c.authorizedPost(ctx, "/vehicles", vehicle, &out); err != nil {
		return "", fmt.Errorf("failed to create vehicle: %w", err)
	}
	log.WithFields(log.Fields{"vehicle_id": out.ID, "type": vtype, "name": vehicle["vehicleName"]}).Info("Created vehicle")
	return out.ID, nil
}

// planTrip picks two distinct cities and derives the captured distance and eta.
func planTrip(rng *rand.Rand) (from, to City, distance, eta string) {
	from = cities[rng.Intn(len(cities))]
	to = from
	for to.Name == from.Name {
		to = cities[rng.Intn(len(cities))]
	}
	km := haversineKm(from.Location, to.Location) * roadFactor
	minutes := int(math.Ceil(km / avgSpeedKmh * 60))
	return from, to, fmt.Sprintf("%.1f km", km), strconv.Itoa(minutes)
}

// driverSim runs trips for one driver and vehicle pair.
type driverSim struct {
	client     *apiClient
	rng        *rand.Rand
	driverID   string
	vehicleID  string
	vtype      models.VehicleType
	interval   time.Duration
	acceptRate float64
}

func (s *driverSim) transition(ctx context.Context, tripID, action string) error {
	var trip models.Trip
	if err := s.client.authorizedPost(ctx, "/trips/"+tripID+"/"+action, nil, &trip); err != nil {
		return err
	}
	log.WithFields(log.Fields{"trip_id": tripID, "driver": s.driverID, "status": trip.Status}).Info("Trip " + action)
	return nil
}

func (s *driverSim) wait(ctx context.Context) error {
	t := time.NewTimer(s.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// runTrip schedules one trip and walks it through the lifecycle.
func (s *driverSim) runTrip(ctx context.Context) error {
	from, to, distance, eta := planTrip(s.rng)
	var trip models.Trip
	err := s.client.authorizedPost(ctx, "/trips", map[string]interface{}{
		"startLocation": from.Name,
		"endLocation":   to.Name,
		"vehicleType":   s.vtype,
		"vehicleID":     s.vehicleID,
		"driver":        s.driverID,
		"eta":           eta,
		"distance":      distance,
	}, &trip)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"trip_id": trip.ID, "from": from.Name, "to": to.Name, "distance": distance}).Info("Trip scheduled")

	if err := s.wait(ctx); err != nil {
		return err
	}
	if s.rng.Float64() >= s.acceptRate {
		return s.transition(ctx, trip.ID, "decline")
	}
	for _, action := range []string{"accept", "start", "complete"} {
		if err := s.transition(ctx, trip.ID, action); err != nil {
			return err
		}
		if action != "complete" {
			if err := s.wait(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// run drives trips until ctx ends or limit trips have run. A limit of zero runs forever.
func (s *driverSim) run(ctx context.Context, limit int) error {
	for n := 0; limit == 0 || n < limit; n++ {
		if err := s.runTrip(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("driver %s: %w", s.driverID, err)
		}
	}
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func main() {
	// Trips, drivers and vehicles need a fleet manager or admin token
	token := os.Getenv("SIM_AUTH_TOKEN")

	fleetSize := envInt("FLEET_SIZE", 5)
	tripsPerDriver := envInt("SIM_TRIPS", 0)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient(apiURL, token)
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))

	sims := make([]*driverSim, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		vtype := models.VehicleTypes[seed.Intn(len(models.VehicleTypes))]
		driverID, err := createDriver(ctx, client, i, vtype)
		if err != nil {
			log.WithError(err).Error("Failed to create driver")
			continue
		}
		vehicleID, err := createVehicle(ctx, client, seed, vtype)
		if err != nil {
			log.WithError(err).Error("Failed to create vehicle")
			continue
		}
		sims = append(sims, &driverSim{
			client:     client,
			rng:        rand.New(rand.NewSource(seed.Int63())),
			driverID:   driverID,
			vehicleID:  vehicleID,
			vtype:      vtype,
			interval:   interval,
			acceptRate: 0.85,
		})
	}

	log.WithField("drivers", len(sims)).Info("Fleet setup completed")
	if len(sims) == 0 {
		log.Error("No drivers created. Ensure SIM_AUTH_TOKEN is valid and API is reachable. Exiting.")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sims {
		s := s
		g.Go(func() error { return s.run(gctx, tripsPerDriver) })
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Simulation stopped")
	}
	log.Info("Simulation finished")
}

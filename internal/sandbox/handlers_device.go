package sandbox

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/gin-gonic/gin"
)

const earthRadiusMeters = 6371000

type devicePayload struct {
	DeviceID  string   `json:"device_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Status    int      `json:"status"`
	Distance  *float64 `json:"distance"`
}

func toDevicePayload(device Device, distance *float64) devicePayload {
	return devicePayload{
		DeviceID:  device.DeviceID,
		Name:      device.Name,
		Address:   device.Address,
		Latitude:  device.Latitude,
		Longitude: device.Longitude,
		Status:    device.Status,
		Distance:  distance,
	}
}

func (server *Server) handleNearbyDevices(ctx *gin.Context) {
	latitude, latErr := strconv.ParseFloat(ctx.Query("latitude"), 64)
	longitude, lonErr := strconv.ParseFloat(ctx.Query("longitude"), 64)
	if latErr != nil || lonErr != nil {
		respondDetail(ctx, http.StatusUnprocessableEntity, "latitude and longitude are required")
		return
	}
	radius := float64(defaultRadiusMeters)
	if raw := ctx.Query("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			respondDetail(ctx, http.StatusUnprocessableEntity, "radius must be positive")
			return
		}
		radius = parsed
	}
	devices, err := server.store.ActiveDevices(ctx.Request.Context())
	if err != nil {
		server.internalError(ctx, "device list failed", err)
		return
	}
	items := make([]devicePayload, 0, len(devices))
	for _, device := range devices {
		distance := haversineMeters(latitude, longitude, device.Latitude, device.Longitude)
		if distance > radius {
			continue
		}
		rounded := math.Round(distance)
		items = append(items, toDevicePayload(device, &rounded))
	}
	sort.SliceStable(items, func(left int, right int) bool {
		return *items[left].Distance < *items[right].Distance
	})
	respondOK(ctx, items)
}

func (server *Server) handleSearchDevices(ctx *gin.Context) {
	keyword := strings.TrimSpace(ctx.Query("keyword"))
	if keyword == "" {
		respondDetail(ctx, http.StatusUnprocessableEntity, "keyword is required")
		return
	}
	devices, err := server.store.SearchDevices(ctx.Request.Context(), keyword, searchLimit)
	if err != nil {
		server.internalError(ctx, "device search failed", err)
		return
	}
	items := make([]devicePayload, 0, len(devices))
	for _, device := range devices {
		items = append(items, toDevicePayload(device, nil))
	}
	respondOK(ctx, items)
}

func (server *Server) handleDeviceInfo(ctx *gin.Context) {
	device, err := server.store.Device(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		if isNotFound(err) {
			respondEnvelopeError(ctx, gateway.CodeDeviceMissing, "device not found")
			return
		}
		server.internalError(ctx, "device fetch failed", err)
		return
	}
	payload := toDevicePayload(device, nil)
	respondOK(ctx, gin.H{
		"device_id":        payload.DeviceID,
		"name":             payload.Name,
		"address":          payload.Address,
		"latitude":         payload.Latitude,
		"longitude":        payload.Longitude,
		"status":           payload.Status,
		"unit_price":       yuan(device.UnitPriceCents),
		"capacity_percent": device.CapacityPercent,
	})
}

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1 float64, lon1 float64, lat2 float64, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

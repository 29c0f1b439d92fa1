// stats.go - Admin system information endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// publicIP asks an external echo service for the server's public address.
func (s *Server) publicIP(ctx context.Context) string {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.ipify.org?format=json", nil)
	if err != nil {
		return ""
	}
	resp, err := s.geo.Do(req)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.IP
}

// systemInfoHandler handles GET /api/stats/system. Admin only.
func (s *Server) systemInfoHandler() http.Handler {
	return s.auth.requireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		cpuModel := "unknown"
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			cpuModel = infos[0].ModelName
		}

		memory := map[string]string{}
		if vm, err := mem.VirtualMemory(); err == nil {
			memory["total"] = fmt.Sprintf("%.2f GB", float64(vm.Total)/(1<<30))
			memory["used"] = fmt.Sprintf("%.2f GB", float64(vm.Used)/(1<<30))
			memory["usage"] = fmt.Sprintf("%.2f%%", vm.UsedPercent)
		}

		osDesc := runtime.GOOS + " " + runtime.GOARCH
		var uptime uint64
		if hi, err := host.Info(); err == nil {
			osDesc = fmt.Sprintf("%s %s %s", hi.Platform, hi.PlatformVersion, hi.KernelArch)
			uptime = hi.Uptime
		}

		ip := s.publicIP(ctx)
		geo := s.lookupGeo(ctx, ip)
		region := geo.Country
		if geo.City != "" {
			region += " " + geo.City
		}

		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"cpu":           cpuModel,
			"memory":        memory,
			"os":            osDesc,
			"uptimeSeconds": uptime,
			"ip":            ip,
			"isp":           geo.ISP,
			"region":        region,
		})
	}))
}

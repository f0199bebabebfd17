package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type nwsStub struct {
	geocode  string
	points   string
	forecast string
	status   map[string]int
}

func (s *nwsStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body string
		key := ""
		switch {
		case r.URL.Path == "/search":
			key, body = "geocode", s.geocode
			if q := r.URL.Query().Get("q"); !strings.HasSuffix(q, ",USA") {
				t.Errorf("geocode q = %q, want city suffixed with ,USA", q)
			}
		case strings.HasPrefix(r.URL.Path, "/points/"):
			key, body = "points", strings.ReplaceAll(s.points, "{{base}}", srv.URL)
		case r.URL.Path == "/forecast/hourly":
			key, body = "forecast", s.forecast
		default:
			http.NotFound(w, r)
			return
		}
		if code := s.status[key]; code != 0 {
			w.WriteHeader(code)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func weatherFor(t *testing.T, stub *nwsStub, city string) string {
	t.Helper()
	srv := stub.server(t)
	tool := NewWeatherTool(WeatherConfig{GeocodeURL: srv.URL + "/search", ForecastURL: srv.URL})
	got, err := tool.Handler(context.Background(), map[string]any{"city": city})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return got
}

const (
	okGeocode  = `[{"lat":"41.8755616","lon":"-87.6244212"}]`
	okPoints   = `{"properties":{"forecastHourly":"{{base}}/forecast/hourly"}}`
	okForecast = `{"properties":{"periods":[{"temperature":72,"temperatureUnit":"F","shortForecast":"Sunny"},{"temperature":70,"temperatureUnit":"F","shortForecast":"Clear"}]}}`
)

func TestWeather_Success(t *testing.T) {
	got := weatherFor(t, &nwsStub{geocode: okGeocode, points: okPoints, forecast: okForecast}, "Chicago")
	if want := "Current weather in Chicago: 72°F, Sunny"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWeather_Failures(t *testing.T) {
	tests := []struct {
		name string
		stub nwsStub
		want string
	}{
		{
			name: "unknown city",
			stub: nwsStub{geocode: `[]`},
			want: "Could not find location data for Atlantis",
		},
		{
			name: "points without properties",
			stub: nwsStub{geocode: okGeocode, points: `{"title":"Invalid Parameter"}`},
			want: "Could not fetch weather data for Atlantis",
		},
		{
			name: "points rejected",
			stub: nwsStub{geocode: okGeocode, points: `{}`, status: map[string]int{"points": 404}},
			want: "Could not fetch weather data for Atlantis",
		},
		{
			name: "forecast without periods",
			stub: nwsStub{geocode: okGeocode, points: okPoints, forecast: `{"properties":{}}`},
			want: "Could not fetch forecast for Atlantis",
		},
		{
			name: "forecast unavailable",
			stub: nwsStub{geocode: okGeocode, points: okPoints, forecast: `{}`, status: map[string]int{"forecast": 503}},
			want: "Could not fetch forecast for Atlantis",
		},
		{
			name: "geocode garbage",
			stub: nwsStub{geocode: `<html>`},
			want: "Error fetching weather for Atlantis: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weatherFor(t, &tt.stub, "Atlantis")
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("got %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestWeather_MissingCity(t *testing.T) {
	tool := NewWeatherTool(WeatherConfig{GeocodeURL: "http://127.0.0.1:0", ForecastURL: "http://127.0.0.1:0"})
	got, err := tool.Handler(context.Background(), map[string]any{})
	if err != nil || got != "Error: city is required" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestTrimCoord(t *testing.T) {
	if got := trimCoord("41.8755616"); got != "41.8756" {
		t.Errorf("trimCoord = %q", got)
	}
	if got := trimCoord("n/a"); got != "n/a" {
		t.Errorf("trimCoord(bad) = %q", got)
	}
}

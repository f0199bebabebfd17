package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nugget/toolchat/internal/httpkit"
)

// WeatherConfig configures the get_weather tool.
type WeatherConfig struct {
	GeocodeURL  string // Nominatim search endpoint
	ForecastURL string // National Weather Service API base
	Client      *http.Client
	Logger      *slog.Logger
}

type geocodeResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

type pointsResponse struct {
	Properties *struct {
		ForecastHourly string `json:"forecastHourly"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties *struct {
		Periods []forecastPeriod `json:"periods"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Temperature     float64 `json:"temperature"`
	TemperatureUnit string  `json:"temperatureUnit"`
	ShortForecast   string  `json:"shortForecast"`
}

type weatherFetcher struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
	logger      *slog.Logger
}

// NewWeatherTool returns the get_weather tool, which reports current
// conditions for a US city.
func NewWeatherTool(cfg WeatherConfig) *Tool {
	w := &weatherFetcher{
		geocodeURL:  cfg.GeocodeURL,
		forecastURL: strings.TrimRight(cfg.ForecastURL, "/"),
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
	if w.client == nil {
		w.client = httpkit.NewClient()
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	return &Tool{
		Name:        "get_weather",
		Description: "Get current weather for a US location by city name",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "The city name (e.g., 'New York', 'Chicago')",
				},
			},
			"required": []string{"city"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			city, _ := args["city"].(string)
			if strings.TrimSpace(city) == "" {
				return "Error: city is required", nil
			}
			return w.current(ctx, city), nil
		},
	}
}

// current walks geocode, NWS points and the hourly forecast. Every
// failure is reported as text for the model.
func (w *weatherFetcher) current(ctx context.Context, city string) string {
	q := url.Values{}
	q.Set("q", city+",USA")
	q.Set("format", "json")
	q.Set("limit", "1")

	var places []geocodeResult
	if err := httpkit.GetJSON(ctx, w.client, w.geocodeURL+"?"+q.Encode(), &places, nil); err != nil {
		w.logger.Warn("geocode failed", "city", city, "error", err)
		return fmt.Sprintf("Error fetching weather for %s: %v", city, err)
	}
	if len(places) == 0 {
		return fmt.Sprintf("Could not find location data for %s", city)
	}

	lat, lon := trimCoord(places[0].Lat), trimCoord(places[0].Lon)
	var points pointsResponse
	err := httpkit.GetJSON(ctx, w.client, fmt.Sprintf("%s/points/%s,%s", w.forecastURL, lat, lon), &points, nil)
	var statusErr *httpkit.StatusError
	switch {
	case errors.As(err, &statusErr):
		w.logger.Warn("points lookup rejected", "city", city, "status", statusErr.StatusCode)
		return fmt.Sprintf("Could not fetch weather data for %s", city)
	case err != nil:
		return fmt.Sprintf("Error fetching weather for %s: %v", city, err)
	case points.Properties == nil || points.Properties.ForecastHourly == "":
		return fmt.Sprintf("Could not fetch weather data for %s", city)
	}

	var forecast forecastResponse
	err = httpkit.GetJSON(ctx, w.client, points.Properties.ForecastHourly, &forecast, nil)
	switch {
	case errors.As(err, &statusErr):
		w.logger.Warn("forecast fetch rejected", "city", city, "status", statusErr.StatusCode)
		return fmt.Sprintf("Could not fetch forecast for %s", city)
	case err != nil:
		return fmt.Sprintf("Error fetching weather for %s: %v", city, err)
	case forecast.Properties == nil || len(forecast.Properties.Periods) == 0:
		return fmt.Sprintf("Could not fetch forecast for %s", city)
	}

	now := forecast.Properties.Periods[0]
	return fmt.Sprintf("Current weather in %s: %s°%s, %s",
		city, strconv.FormatFloat(now.Temperature, 'f', -1, 64), now.TemperatureUnit, now.ShortForecast)
}

// trimCoord limits a coordinate to four decimals, the precision the
// points endpoint accepts without redirecting.
func trimCoord(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}

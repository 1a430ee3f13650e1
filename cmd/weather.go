package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/services"
	"github.com/desertthunder/irrigo/internal/shared"
	"github.com/urfave/cli/v3"
)

func weatherQuery(cmd *cli.Command) services.WeatherQuery {
	q := services.WeatherQuery{City: cmd.String("city")}
	if cmd.IsSet("lat") && cmd.IsSet("lon") {
		lat, lon := cmd.Float("lat"), cmd.Float("lon")
		q.Lat, q.Lon = &lat, &lon
	}
	return q
}

// WeatherCurrent prints current conditions.
func (r *Runner) WeatherCurrent(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	weather, err := r.svc.CurrentWeather(ctx, weatherQuery(cmd))
	if err != nil {
		return fmt.Errorf("failed to fetch weather: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(weather, cmd.Bool("pretty"))
	}
	r.writePlainHeader(fmt.Sprintf("Weather in %s", weather.Location))
	r.writePlain("Conditions:  %s\n", weather.Description)
	r.writePlain("Temperature: %.1f°C\n", weather.Temperature)
	if weather.FeelsLike != nil {
		r.writePlain("Feels like:  %.1f°C\n", *weather.FeelsLike)
	}
	r.writePlain("Humidity:    %.0f%%\n", weather.Humidity)
	r.writePlain("Rain chance: %.0f%%\n", weather.RainProbability)
	return nil
}

// WeatherForecast prints the upcoming forecast intervals.
func (r *Runner) WeatherForecast(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	forecast, err := r.svc.Forecast(ctx, weatherQuery(cmd))
	if err != nil {
		return fmt.Errorf("failed to fetch forecast: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(forecast, cmd.Bool("pretty"))
	}
	r.writePlainHeader(fmt.Sprintf("Forecast (%d intervals)", len(forecast)))
	for _, f := range forecast {
		r.writePlain("%s  %5.1f°C  rain %3.0f%%  %s\n",
			f.Time.Local().Format("Mon 15:04"), f.Temperature, f.RainProbability, f.Description)
	}
	return nil
}

// Predict asks the irrigation model whether the given conditions call for watering.
func (r *Runner) Predict(ctx context.Context, cmd *cli.Command) error {
	input := models.PredictionInput{
		SoilMoisture: cmd.Float("moisture"),
		Temperature:  cmd.Float("temperature"),
		Humidity:     cmd.Float("humidity"),
		RainSensor:   cmd.Int("rain"),
	}
	if input.RainSensor != 0 && input.RainSensor != 1 {
		return fmt.Errorf("%w: rain must be 0 or 1", shared.ErrInvalidFlag)
	}
	if cmd.IsSet("rain-probability") {
		p := cmd.Float("rain-probability")
		input.RainProbability = &p
	}
	if err := r.requireSession(ctx); err != nil {
		return err
	}

	prediction, err := r.svc.Predict(ctx, input)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(prediction, cmd.Bool("pretty"))
	}
	r.writePlain("%s (%.0f%% confidence)\n", prediction.Recommendation, prediction.Confidence*100)
	if prediction.Reason != "" {
		r.writePlain("Reason: %s\n", prediction.Reason)
	}
	return nil
}

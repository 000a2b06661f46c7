package service

import (
	"fmt"
	"time"

	"github.com/iliyamo/parkqr/internal/model"
)

// Rates holds the hourly tariff in cents for each vehicle class.
type Rates map[model.VehicleClass]int64

// DefaultRates returns the stock tariff: 200 for cars, 100 for motorcycles
// and 50 for bicycles, all in cents per started hour.
func DefaultRates() Rates {
	return Rates{
		model.VehicleCar:        200,
		model.VehicleMotorcycle: 100,
		model.VehicleBicycle:    50,
	}
}

// RatePerHour returns the hourly rate for class.
func (r Rates) RatePerHour(class model.VehicleClass) (int64, error) {
	rate, ok := r[class]
	if !ok {
		return 0, newError(KindValidation, fmt.Sprintf("no rate configured for vehicle type %q", class), nil)
	}
	return rate, nil
}

// ComputeFee bills every started hour at the class rate.  Zero minutes
// cost nothing.
func (r Rates) ComputeFee(class model.VehicleClass, minutes int64) (int64, error) {
	if minutes < 0 {
		return 0, newError(KindValidation, "elapsed minutes must not be negative", nil)
	}
	rate, err := r.RatePerHour(class)
	if err != nil {
		return 0, err
	}
	return TotalHours(minutes) * rate, nil
}

// TotalHours rounds minutes up to whole hours.
func TotalHours(minutes int64) int64 {
	if minutes <= 0 {
		return 0
	}
	return (minutes + 59) / 60
}

// ElapsedMinutes counts whole minutes from start to end, never negative.
func ElapsedMinutes(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Minute)
}

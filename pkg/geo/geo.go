package geo

import "math"

// earthRadiusMeters - средний радиус Земли в метрах (сферическая аппроксимация)
const earthRadiusMeters = 6371000.0

// DistanceMeters вычисляет расстояние по дуге большого круга между двумя
// точками по формуле гаверсинусов. Симметрична, для совпадающих точек дает 0.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

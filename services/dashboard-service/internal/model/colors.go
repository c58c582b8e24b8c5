package model

// ServiceColors maps a service tag to its calendar display color.
var ServiceColors = map[string]string{
	"Haircut":    "#AD947F",
	"Color":      "#8A7563",
	"Highlights": "#D2BFAF",
	"BlowDry":    "#F1DCC3",
	"Treatment":  "#B0BEC5",
	"Other":      "#C8C8C8",
}

const defaultColor = "#C8C8C8"

// ColorForService derives the display color for an appointment's service
// field. Multi-service appointments fall back to the first tag with a
// known color.
func ColorForService(service string) string {
	if c, ok := ServiceColors[service]; ok {
		return c
	}
	for _, tag := range (Appointment{Service: service}).ServiceTags() {
		if c, ok := ServiceColors[tag]; ok {
			return c
		}
	}
	return defaultColor
}

package handlers

import "net/http"

type Routes struct {
	Availability *AvailabilityHandler
	Bookings     *BookingHandler
	Resources    *ResourceHandler
	Settings     *SettingsHandler
}

func (rt Routes) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/availability", rt.Availability.Get)
	mux.HandleFunc("/api/v1/availability/refresh", rt.Availability.Refresh)
	mux.HandleFunc("/api/v1/unavailability", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			rt.Resources.CreateBlock(w, r)
			return
		}
		rt.Availability.Unavailability(w, r)
	})
	mux.HandleFunc("/api/v1/unavailability/{id}", rt.Resources.DeleteBlock)
	mux.HandleFunc("/api/v1/selection/validate", rt.Availability.ValidateSelection)
	mux.HandleFunc("/api/v1/bookings", rt.Bookings.Create)
	mux.HandleFunc("/api/v1/bookings/{id}", rt.Bookings.Update)
	mux.HandleFunc("/api/v1/resources", rt.Resources.List)
	mux.HandleFunc("/api/v1/settings", rt.Settings.Serve)
}

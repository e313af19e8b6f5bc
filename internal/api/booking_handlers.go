package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/models"
	"github.com/fuomag9/schedsync/internal/store"
)

// HandleListBookings returns bookings the caller hosts or attends
func HandleListBookings(bookings store.Bookings, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := bookings.ListBookingsForProfile(r.Context(), currentProfile(r))
		if err != nil {
			logger.Error("failed to list bookings", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to fetch bookings")
			return
		}
		if list == nil {
			list = []models.Booking{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"hadash/internal/model"
)

const productID = "-//hadash//dashboard calendar//EN"

// Export renders events as an iCalendar document so the selected upcoming
// events can be subscribed to from other clients.
func Export(events []model.CalendarEvent, now time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		out := cal.AddEvent(ev.ID)
		out.SetDtStampTime(now)
		out.SetSummary(ev.Title)
		if ev.AllDay {
			out.SetAllDayStartAt(ev.Start)
			if !ev.End.IsZero() {
				out.SetAllDayEndAt(ev.End)
			}
		} else {
			out.SetStartAt(ev.Start)
			if !ev.End.IsZero() {
				out.SetEndAt(ev.End)
			}
		}
		if ev.Description != "" {
			out.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			out.SetLocation(ev.Location)
		}
	}

	return []byte(cal.Serialize())
}

package attendance

import (
	"context"
	"encoding/json"
	"log"

	"presensi/internal/queue"
)

// EventRecorded is the queue message type published after every durable write.
const EventRecorded = "attendance.recorded"

// Event is the body of an EventRecorded message.
type Event struct {
	RecordID  string `json:"record_id"`
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	Date      string `json:"date"`
	Action    Action `json:"action"`
	Status    Status `json:"status"`
}

// DecodeEvent parses an EventRecorded message body.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	err := json.Unmarshal(msg.Body, &evt)
	return evt, err
}

func (s *Service) publish(ctx context.Context, rec Record, action Action) {
	if s.queue == nil {
		return
	}
	body, err := json.Marshal(Event{
		RecordID:  rec.ID,
		StudentID: rec.StudentID,
		CourseID:  rec.CourseID,
		Date:      rec.Date,
		Action:    action,
		Status:    rec.Status,
	})
	if err != nil {
		log.Printf("attendance: encode event for %s: %v", rec.ID, err)
		return
	}
	// The record is already committed: a slow or full queue drops the event
	// instead of holding the response.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubWait)
	defer cancel()
	if err := s.queue.Publish(ctx, queue.Message{Type: EventRecorded, Body: body}); err != nil {
		log.Printf("queue publish failed, event for %s dropped: %v", rec.ID, err)
	}
}

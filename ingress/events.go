package ingress

import (
	"strconv"

	"taskflow-realtime/domain"
)

const (
	TypeIssueCreated      = "issue_created"
	TypeIssueUpdated      = "issue_updated"
	TypeIssueDeleted      = "issue_deleted"
	TypeCommentCreated    = "comment_created"
	TypeCommentUpdated    = "comment_updated"
	TypeCommentDeleted    = "comment_deleted"
	TypeIssueLabelAdded   = "issue_label_added"
	TypeIssueLabelRemoved = "issue_label_removed"
	TypeLabelCreated      = "label_created"
	TypeLabelUpdated      = "label_updated"
	TypeLabelDeleted      = "label_deleted"
)

// commentPreviewLen caps how much comment text is pushed to observers.
const commentPreviewLen = 100

// ProjectRoom names the room that observers of one project join.
func ProjectRoom(projectID int64) string {
	return "project:" + strconv.FormatInt(projectID, 10)
}

func IssueCreated(id int64, title, status string) domain.Event {
	return domain.NewEvent(TypeIssueCreated, map[string]any{
		"id":     id,
		"title":  title,
		"status": status,
	})
}

// IssueUpdated carries the issue id plus only the fields that changed.
func IssueUpdated(id int64, changed map[string]any) domain.Event {
	return domain.NewEvent(TypeIssueUpdated, withID("id", id, changed))
}

func IssueDeleted(id int64) domain.Event {
	return domain.NewEvent(TypeIssueDeleted, map[string]any{"id": id})
}

func CommentCreated(commentID, issueID, userID int64, content string) domain.Event {
	return domain.NewEvent(TypeCommentCreated, map[string]any{
		"comment_id": commentID,
		"issue_id":   issueID,
		"user_id":    userID,
		"content":    preview(content),
	})
}

func CommentUpdated(commentID, issueID, userID int64) domain.Event {
	return domain.NewEvent(TypeCommentUpdated, commentRef(commentID, issueID, userID))
}

func CommentDeleted(commentID, issueID, userID int64) domain.Event {
	return domain.NewEvent(TypeCommentDeleted, commentRef(commentID, issueID, userID))
}

func IssueLabelAdded(issueID, labelID int64, labelName, addedBy string) domain.Event {
	return domain.NewEvent(TypeIssueLabelAdded, map[string]any{
		"issue_id":   issueID,
		"label_id":   labelID,
		"label_name": labelName,
		"added_by":   addedBy,
	})
}

func IssueLabelRemoved(issueID, labelID int64, labelName, removedBy string) domain.Event {
	return domain.NewEvent(TypeIssueLabelRemoved, map[string]any{
		"issue_id":   issueID,
		"label_id":   labelID,
		"label_name": labelName,
		"removed_by": removedBy,
	})
}

func LabelCreated(id int64, name, color string) domain.Event {
	return domain.NewEvent(TypeLabelCreated, map[string]any{
		"id":    id,
		"name":  name,
		"color": color,
	})
}

func LabelUpdated(id int64, changed map[string]any) domain.Event {
	return domain.NewEvent(TypeLabelUpdated, withID("id", id, changed))
}

func LabelDeleted(id int64) domain.Event {
	return domain.NewEvent(TypeLabelDeleted, map[string]any{"id": id})
}

func commentRef(commentID, issueID, userID int64) map[string]any {
	return map[string]any{
		"comment_id": commentID,
		"issue_id":   issueID,
		"user_id":    userID,
	}
}

// withID copies changed so the caller's map is never shared with the hub.
func withID(key string, id int64, changed map[string]any) map[string]any {
	data := make(map[string]any, len(changed)+1)
	for k, v := range changed {
		data[k] = v
	}
	data[key] = id
	return data
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= commentPreviewLen {
		return s
	}
	return string(r[:commentPreviewLen])
}

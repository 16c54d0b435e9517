package pipeline

import (
	"context"
	"fmt"
	"time"

	"coldreach/llm"
	"coldreach/models"
)

// RunCategorizeReplies classifies uncategorized replies and feeds every
// non-spam reply straight into response drafting
func (d *Driver) RunCategorizeReplies(ctx context.Context) error {
	var userIDs []uint
	err := d.DB.WithContext(ctx).Model(&models.ProspectReply{}).
		Distinct("user_id").
		Where("category IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM reply_drafts rd WHERE rd.reply_id = prospect_replies.id AND rd.deleted_at IS NULL)").
		Limit(d.Limits.CategorizeUsers).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var replies []models.ProspectReply
		err := d.DB.
			Where("user_id = ? AND category IS NULL", userID).
			Where("NOT EXISTS (SELECT 1 FROM reply_drafts rd WHERE rd.reply_id = prospect_replies.id AND rd.deleted_at IS NULL)").
			Order("received_at asc").
			Limit(d.Limits.CategorizePerUser).
			Find(&replies).Error
		if err != nil {
			logEntityError("categorize_replies", "user", userID, err)
			continue
		}

		for i := range replies {
			if err := d.processReply(ctx, &replies[i]); err != nil {
				if isFatalForCampaign(err) {
					logEntityError("categorize_replies", "user", userID, err)
					break
				}
				logEntityError("categorize_replies", "reply", replies[i].ID, err)
			}
		}
	}
	return nil
}

// RunRetriage re-runs categorization for replies stuck with no category
// for longer than olderThan. These are earlier categorizer failures; the
// bounded batch keeps one bad backlog from starving the tick.
func (d *Driver) RunRetriage(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	var replies []models.ProspectReply
	err := d.DB.WithContext(ctx).
		Where("category IS NULL AND received_at <= ?", cutoff).
		Order("received_at asc").
		Limit(d.Limits.CategorizePerUser).
		Find(&replies).Error
	if err != nil {
		return err
	}

	for i := range replies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.processReply(ctx, &replies[i]); err != nil {
			logEntityError("support_retriage", "reply", replies[i].ID, err)
		}
	}
	return nil
}

// processReply categorizes one reply, then drafts a response unless the
// category short-circuits it
func (d *Driver) processReply(ctx context.Context, reply *models.ProspectReply) error {
	category, err := d.CategorizeReply(ctx, reply)
	if err != nil {
		return err
	}
	if category == models.ReplySpam {
		return nil
	}
	return d.DraftResponse(ctx, reply)
}

// CategorizeReply classifies a reply into one of six categories
func (d *Driver) CategorizeReply(ctx context.Context, reply *models.ProspectReply) (string, error) {
	prompt := fmt.Sprintf(`Categorize this reply to a cold outreach email.

From: %s
Subject: %s
Body:
%s

Categories: interested, objection, ooo, not_interested, question, spam.
For ooo include the return date if stated. For objection include the primary
objection in a short phrase. Respond as JSON:
{"category": "", "confidence": 0.0-1.0, "ooo_return_date": "YYYY-MM-DD", "primary_objection": ""}`,
		reply.FromEmail, reply.Subject, reply.Body)

	var payload categorizePayload
	if _, err := d.LLM.CallJSON(ctx, reply.UserID, llm.TaskCategorizeReply, prompt, &payload); err != nil {
		return "", err
	}
	if err := payload.validate(); err != nil {
		return "", err
	}

	updates := map[string]interface{}{
		"category":            payload.Category,
		"category_confidence": payload.Confidence,
	}
	if payload.PrimaryObjection != "" {
		updates["primary_objection"] = payload.PrimaryObjection
	}
	if payload.OOOReturnDate != "" {
		if returnDate, err := time.Parse("2006-01-02", payload.OOOReturnDate); err == nil {
			updates["ooo_return_date"] = returnDate
		}
	}
	if err := d.DB.Model(reply).Updates(updates).Error; err != nil {
		return "", err
	}

	reply.Category = &payload.Category
	return payload.Category, nil
}

// DraftResponse dispatches to a per-category drafter and stores one
// pending-approval ReplyDraft
func (d *Driver) DraftResponse(ctx context.Context, reply *models.ProspectReply) error {
	if reply.Category == nil {
		return fmt.Errorf("reply %d has no category", reply.ID)
	}

	var prospect models.Prospect
	if err := d.DB.First(&prospect, reply.ProspectID).Error; err != nil {
		return err
	}
	var campaign models.Campaign
	if err := d.DB.First(&campaign, reply.CampaignID).Error; err != nil {
		return err
	}

	instructions, suggestedAction := drafterFor(*reply.Category)
	prompt := fmt.Sprintf(`Draft a reply to this prospect response.

Product: %s
Prospect: %s %s at %s
Their reply (categorized %s):
%s

%s

Keep it under 100 words. Respond as JSON:
{"subject": "", "body": "", "suggested_action": ""}`,
		campaign.ProductDescription,
		prospect.FirstName, prospect.LastName, prospect.Company,
		*reply.Category, reply.Body, instructions)

	var payload responseDraftPayload
	res, err := d.LLM.CallJSON(ctx, reply.UserID, llm.TaskDraftResponse, prompt, &payload)
	if err != nil {
		return err
	}
	if err := payload.validate(); err != nil {
		return err
	}
	if payload.SuggestedAction == "" {
		payload.SuggestedAction = suggestedAction
	}
	if payload.Subject == "" {
		payload.Subject = "Re: " + reply.Subject
	}

	draft := models.ReplyDraft{
		ReplyID:         reply.ID,
		ProspectID:      reply.ProspectID,
		UserID:          reply.UserID,
		Subject:         payload.Subject,
		Body:            payload.Body,
		SuggestedAction: payload.SuggestedAction,
		Status:          models.EmailPendingApproval,
		ModelName:       res.Model,
	}
	if *reply.Category == models.ReplyOOO && reply.OOOReturnDate != nil {
		followUp := reply.OOOReturnDate.Add(24 * time.Hour)
		draft.FollowUpDate = &followUp
	}
	return d.DB.Create(&draft).Error
}

// drafterFor returns per-category drafting instructions and the default
// suggested action
func drafterFor(category string) (string, string) {
	switch category {
	case models.ReplyInterested:
		return "They are interested. Propose a concrete next step: a short call with two time options.", "schedule_call"
	case models.ReplyObjection:
		return "They raised an objection. Acknowledge it directly, answer it in one or two sentences, and leave the door open.", "address_objection"
	case models.ReplyOOO:
		return "They are out of office. Write a short note to send after they return, referencing the original email.", "follow_up_later"
	case models.ReplyNotInterested:
		return "They are not interested. Write a graceful close-out that thanks them and leaves a future opening. No persuasion.", "close_out"
	case models.ReplyQuestion:
		return "They asked a question. Answer it plainly, then restate the value proposition in one sentence.", "answer_question"
	default:
		return "Write a polite, short acknowledgement.", "review"
	}
}

package judge

import (
	"fmt"

	"followup/internal/classify"
)

func judgeSystemPrompt(t classify.Identity) string {
	return fmt.Sprintf("You analyze email conversations for %s (%s) and decide whether %s specifically must act. "+
		"Be strict: if the request is addressed to someone else or the loop is already closed, no action is needed. "+
		"The reason must match the action_type you choose and refer to the actual content.", t.Name, t.Email, t.Name)
}

func judgePrompt(transcript string, t classify.Identity) string {
	n := t.Name
	return fmt.Sprintf(`Decide whether %[1]s (%[2]s) needs to take action on this conversation.

Rules:
1. Read every message from oldest to newest and check whether open questions were already answered.
2. If a request is addressed to someone other than %[1]s, %[1]s has no action.
3. Forwards without a question, confirmed meetings and closed loops need no action.
4. Messages marked "(YOU)" were sent by %[1]s. If %[1]s sent the last message, action_type is
   "waiting_for_others" or "no_action", never "user_reply_needed", and the reason names who %[1]s is waiting for.
5. If %[1]s's last message closes the matter (thanks, confirmed, done, access granted, all set) or says it is
   handled in another thread, answer "closed" or "no_action".
6. Credentials, keys or connection details shared without asking for confirmation need no action.
7. When unsure, set confidence to "low".

CONVERSATION (oldest first):
%[3]s

Answer with a JSON object:
{
  "needs_action": "Yes" or "No",
  "action_type": "user_reply_needed" | "waiting_for_others" | "closed" | "no_action",
  "reason": "<specific explanation referencing the conversation>",
  "directed_at": "<who the open request is addressed to, if any>",
  "confidence": "high" | "medium" | "low"
}`, n, t.Email, transcript)
}

const urgencySystemPrompt = "You judge email urgency conservatively. Only new content counts, never quoted replies. " +
	"Explain the concrete deadline or impact behind your answer."

func urgencyPrompt(subject, body string) string {
	return fmt.Sprintf(`Is this email urgent or time-sensitive?

Urgent means: a deadline within the next 2-3 days that has not passed, a blocking or outage situation,
or an explicit request for immediate action in the new content.
Not urgent: FYI or routine updates, calendar responses, no specific deadline, urgency words only in
quoted text, historical urgency, or a closing/confirmation message.

Answer with a JSON object: {"is_urgent": "Yes" or "No", "reason": "<explanation>"}

EMAIL:
"""Subject: %s

Body: %s"""`, subject, body)
}

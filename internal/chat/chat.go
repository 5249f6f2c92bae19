// Package chat turns orchestrator status reports into Slack and Discord
// message payloads. It builds payloads only and never talks to either API.
package chat

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"

	"phaseline/internal/orchestrator"
)

// Embed colors per status action.
var actionColors = map[string]int{
	orchestrator.ActionAllDone:    0x36a64f,
	orchestrator.ActionWaiting:    0xe8a33d,
	orchestrator.ActionSpawnBatch: 0x3b82f6,
	orchestrator.ActionCheckpoint: 0x9ca3af,
}

func progressLine(p orchestrator.Progress) string {
	line := fmt.Sprintf("%d/%d done, %d in progress, %d pending", p.Done, p.Total, p.InProgress, p.Pending)
	if p.Failed > 0 {
		line += fmt.Sprintf(", %d failed", p.Failed)
	}
	return line
}

// callbackID joins a button's action and value into one string, the form
// both platforms hand back on click.
func callbackID(b orchestrator.Button) string {
	if b.Value == "" {
		return b.Action
	}
	return b.Action + ":" + b.Value
}

// SlackMessage is a Block Kit message body.
type SlackMessage struct {
	Text   string          `json:"text"`
	Blocks slackapi.Blocks `json:"blocks"`
}

// SlackBlocks renders a status as a section, a progress context line and,
// when the status carries buttons, an actions block.
func SlackBlocks(st orchestrator.StatusReport) SlackMessage {
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, "*"+st.Message+"*", false, false), nil, nil),
		slackapi.NewContextBlock("progress", slackapi.NewTextBlockObject(slackapi.PlainTextType, progressLine(st.Progress), false, false)),
	}
	if len(st.Buttons) > 0 {
		var elems []slackapi.BlockElement
		for _, b := range st.Buttons {
			btn := slackapi.NewButtonBlockElement(b.Action, b.Value, slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Label, false, false))
			switch b.Style {
			case "primary":
				btn = btn.WithStyle(slackapi.StylePrimary)
			case "danger":
				btn = btn.WithStyle(slackapi.StyleDanger)
			}
			elems = append(elems, btn)
		}
		blocks = append(blocks, slackapi.NewActionBlock("phaseline_"+st.Action, elems...))
	}
	return SlackMessage{Text: st.Message, Blocks: slackapi.Blocks{BlockSet: blocks}}
}

// DiscordMessage renders a status as an embed plus one row of buttons.
func DiscordMessage(st orchestrator.StatusReport) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content: st.Message,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       st.Action,
			Description: progressLine(st.Progress),
			Color:       actionColors[st.Action],
		}},
	}
	if st.Batch != nil {
		for _, t := range st.Batch.Tasks {
			data.Embeds[0].Fields = append(data.Embeds[0].Fields, &discordgo.MessageEmbedField{
				Name:   fmt.Sprintf("Task %d", t.Number),
				Value:  t.Title,
				Inline: true,
			})
		}
	}
	if len(st.Buttons) == 0 {
		return data
	}
	row := discordgo.ActionsRow{}
	for _, b := range st.Buttons {
		style := discordgo.SecondaryButton
		switch b.Style {
		case "primary":
			style = discordgo.PrimaryButton
		case "danger":
			style = discordgo.DangerButton
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			Style:    style,
			CustomID: callbackID(b),
		})
	}
	data.Components = []discordgo.MessageComponent{row}
	return data
}

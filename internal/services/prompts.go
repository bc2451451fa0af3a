package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/repo"
)

const (
	// unclearTitle replaces the titles when extraction is not confident, so
	// the model asks the user to say which movie they mean.
	unclearTitle = "title unclear, ask the user to re-enter the title"

	noDocuments       = "no related documents"
	characterNotFound = "character not found"

	recommendationMarker = "[Recommendations]"
)

const plainSystemPrompt = `You are a movie enthusiast discussing films with the user.
Use the reference material and the user's library below when they are relevant.
Reflect the different viewpoints found in reviews and discuss them richly; say so when a point comes from a review.
If the message is not a question, keep the conversation going naturally.
When the user asks for recommendations, suggest similar movies they have not watched yet, and start your answer with the line
"` + recommendationMarker + ` Title1, Title2, Title3".
Answer in the language the user writes in.`

const subjectsPrompt = `Identify the movies the user's latest message is about, using the conversation for context.
Return JSON only: {"movies":[{"title":string,"year":number|null,"series":number|null,"confidence":number}]}
- title: the movie title as the user would search for it
- year: release year when stated or implied, else null
- series: installment number for sequels (e.g. 2 for "Dune: Part Two"), else null
- confidence: 0..1, how sure you are that this exact movie is meant
List at most %d movies, most confident first. Return {"movies":[]} when no movie is involved.`

const recommendationsPrompt = `The text below is an answer from a movie assistant.
List only the movies the assistant explicitly recommends to the user.
Return JSON only: {"movies":[{"title":string,"year":number|null,"series":number|null,"confidence":number}]}
Return {"movies":[]} when nothing is recommended.`

const titlePrompt = `Summarize the topic of this conversation as a chat room title.
- 3 to 7 words
- keep the key subject, drop filler words
- casual is fine
Reply with the title only.`

const summaryPrompt = `Progressively summarize the conversation, adding onto the previous summary and returning a new summary.
Keep names of movies, the user's tastes and any decisions made.`

const personaSystemPrompt = `You are role-playing the character described below.

%s

Keep the character's tone, personality and world view in every answer.
Reflect their way of speaking, sentence endings and verbal habits, and show emotion.`

const characterDraftPrompt = `From the material about the movie "%s", build a role-play prompt for the character %s.
1. Personality: their most prominent traits and how they show in actions and decisions.
2. Speech: register, directness, recurring words, humour, dialect or foreign words.
3. World view: how their era, place and society shape their values and goals.
Summarize these in 5 to 8 sentences, then add 3 short, characteristic lines of dialogue.

Material:
%s`

const characterFaithfulPrompt = `Check the character prompt below against the material.
Remove or correct anything the material contradicts and keep everything it supports.
Return the corrected prompt only.

Material:
%s

Character prompt:
%s`

const characterFormatPrompt = `Rewrite the character prompt below as at most 10 sentences: the summary first, then the dialogue examples.
The character's speech style must be clear and consistent throughout.
Return the prompt only, without headings.

%s`

// plainMessages assembles the plain-mode prompt: instructions, rolling
// summary, history, library, context and the message.
func plainMessages(summary string, history []llm.Message, library, titles, context, message string) []llm.Message {
	msgs := []llm.Message{llm.System(plainSystemPrompt)}
	if summary != "" {
		msgs = append(msgs, llm.System("Summary of the earlier conversation:\n"+summary))
	}
	msgs = append(msgs, history...)
	if library != "" {
		msgs = append(msgs, llm.System(library))
	}
	var b strings.Builder
	if titles != "" {
		b.WriteString("Movies in question: ")
		b.WriteString(titles)
		b.WriteString("\n\n")
	}
	b.WriteString("Reference material:\n")
	b.WriteString(context)
	msgs = append(msgs, llm.System(b.String()), llm.User(message))
	return msgs
}

func personaMessages(persona, summary string, history []llm.Message, message string) []llm.Message {
	msgs := []llm.Message{llm.System(fmt.Sprintf(personaSystemPrompt, persona))}
	if summary != "" {
		msgs = append(msgs, llm.System(summary))
	}
	msgs = append(msgs, history...)
	return append(msgs, llm.User(message))
}

// libraryText lists bookmarks and rated archives. Empty when both are.
func libraryText(bookmarks []domain.Movie, archives []repo.ArchivedEntry) string {
	if len(bookmarks) == 0 && len(archives) == 0 {
		return ""
	}
	var b strings.Builder
	if len(bookmarks) > 0 {
		b.WriteString("Movies the user bookmarked: ")
		for i, m := range bookmarks {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(m.Title)
		}
		b.WriteString("\n")
	}
	if len(archives) > 0 {
		b.WriteString("Movies the user watched (rating out of 5): ")
		for i, a := range archives {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%.1f)", a.Movie.Title, a.Rating)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// movieDocument is the text filed in a session's context store.
func movieDocument(m *domain.Movie, reviews []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Title] %s\n\n[Overview]\n%s\n\n", m.Title, m.TMDBOverview)
	if m.HasDocument() {
		fmt.Fprintf(&b, "[Encyclopedia]\n%s\n\n", *m.WikiDocument)
	}
	if len(reviews) > 0 {
		b.WriteString("[Reviews]\n")
		for _, r := range reviews {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

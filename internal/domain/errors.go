package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a game session does not exist.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrParticipantNotFound is returned when a participant row does not exist.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question index or ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidQuiz is returned when quiz content fails shape validation.
	ErrInvalidQuiz = errors.New("invalid quiz content")

	// ErrInvalidPIN is the join-time rejection for an unknown PIN.
	ErrInvalidPIN = errors.New("game not found, check the PIN and try again")
	// ErrSessionEnded is the join-time rejection for a completed session.
	ErrSessionEnded = errors.New("this game has already ended")
	// ErrNicknameRequired is returned when a join request has a blank nickname.
	ErrNicknameRequired = errors.New("nickname is required")
	// ErrNoParticipants prevents starting a session nobody has joined.
	ErrNoParticipants = errors.New("wait for at least one participant to join")
	// ErrSessionNotWaiting is returned when starting a session that already started.
	ErrSessionNotWaiting = errors.New("session is not waiting to start")

	// ErrDuplicatePIN is returned by stores when a PIN is already taken.
	ErrDuplicatePIN = errors.New("pin already in use")
	// ErrDuplicateAnswer is returned when (participant, question) already has an answer.
	ErrDuplicateAnswer = errors.New("answer already recorded for question")
	// ErrDuplicateAchievement is returned when (user, badge) was already awarded.
	ErrDuplicateAchievement = errors.New("badge already earned")

	// ErrAlreadyAnswered is the local guard for a second submission on one question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrNotInQuestion is returned when an answer arrives outside the question state.
	ErrNotInQuestion = errors.New("no question is being displayed")
)

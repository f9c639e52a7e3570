package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const upsertTeamSQL = `
INSERT INTO teams (team_id, name)
VALUES ($1, $2)
ON CONFLICT (team_id) DO UPDATE SET name = EXCLUDED.name
RETURNING team_id, name, created_at`

func (s *Store) UpsertTeam(ctx context.Context, teamID, name string) (Team, error) {
	var t Team
	err := s.db.QueryRow(ctx, upsertTeamSQL, teamID, name).Scan(&t.TeamID, &t.Name, &t.CreatedAt)
	if err != nil {
		return Team{}, fmt.Errorf("upsert team: %w", err)
	}
	return t, nil
}

const getTeamSQL = `
SELECT team_id, name, created_at FROM teams WHERE team_id = $1`

func (s *Store) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var t Team
	err := s.db.QueryRow(ctx, getTeamSQL, teamID).Scan(&t.TeamID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Team{}, ErrNotFound
	}
	if err != nil {
		return Team{}, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

const listTeamsSQL = `
SELECT team_id, name, created_at FROM teams ORDER BY team_id`

func (s *Store) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := s.db.Query(ctx, listTeamsSQL)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.TeamID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// EnsureUser inserts the user on first sighting and leaves existing rows
// untouched.
const ensureUserSQL = `
INSERT INTO users (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO NOTHING`

func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, ensureUserSQL, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

const upsertUserSQL = `
INSERT INTO users (user_id, team_id, email, display_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
    team_id = EXCLUDED.team_id,
    email = EXCLUDED.email,
    display_name = EXCLUDED.display_name
RETURNING user_id, team_id, email, display_name, created_at`

func (s *Store) UpsertUser(ctx context.Context, userID string, teamID, email, displayName *string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, upsertUserSQL, userID, teamID, email, displayName).
		Scan(&u.UserID, &u.TeamID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

const getUserSQL = `
SELECT user_id, team_id, email, display_name, created_at FROM users WHERE user_id = $1`

func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, getUserSQL, userID).
		Scan(&u.UserID, &u.TeamID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

const listTeamMembersSQL = `
SELECT user_id, team_id, email, display_name, created_at
FROM users
WHERE team_id = $1
ORDER BY user_id`

func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]User, error) {
	rows, err := s.db.Query(ctx, listTeamMembersSQL, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.TeamID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

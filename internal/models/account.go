package models

import "time"

// Account is the persisted record for one provider athlete. Credentials
// are overwritten on every exchange or refresh; CreatedAt is set once.
type Account struct {
	AthleteID    int64     `json:"athlete_id"`
	FirstName    string    `json:"firstname,omitempty"`
	LastName     string    `json:"lastname,omitempty"`
	Username     string    `json:"username,omitempty"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    int64     `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccountFromTokens builds the account record a successful grant
// should produce. Metadata comes from the athlete profile when present.
func AccountFromTokens(athleteID int64, ts TokenSet) Account {
	return Account{
		AthleteID:    athleteID,
		FirstName:    ts.Athlete.FirstName,
		LastName:     ts.Athlete.LastName,
		Username:     ts.Athlete.Username,
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    ts.ExpiresAt,
	}
}

// Merge applies an incoming upsert onto an existing record. Credentials
// always take the incoming values. Metadata only changes when the
// incoming value is non-empty, and CreatedAt is never touched.
func (a Account) Merge(in Account, now time.Time) Account {
	out := a
	out.AccessToken = in.AccessToken
	out.RefreshToken = in.RefreshToken
	out.ExpiresAt = in.ExpiresAt
	out.UpdatedAt = now

	if in.FirstName != "" {
		out.FirstName = in.FirstName
	}

	if in.LastName != "" {
		out.LastName = in.LastName
	}

	if in.Username != "" {
		out.Username = in.Username
	}

	return out
}

// Expired reports whether the access token expires within skew of now.
func (a Account) Expired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(time.Unix(a.ExpiresAt, 0))
}

// Activity is the subset of a provider activity summary this service
// surfaces.
type Activity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SportType          string    `json:"sport_type"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	StartDate          time.Time `json:"start_date"`
}

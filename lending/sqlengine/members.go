package sqlengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine/internal/adapters"
)

// AddMember adds a member without holdings. A zero ID is replaced by a new one.
func (s *Store) AddMember(ctx context.Context, member lending.Member) (lending.Member, error) {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}

	member.Holdings = make([]uuid.UUID, 0)

	sqlQuery, err := s.toSQL("add_member", s.sql().
		Insert(s.tables.members).
		Rows(goqu.Record{
			colID:     member.ID.String(),
			colName:   member.Name,
			colEmail:  member.Email,
			colPhone:  member.Phone,
			colActive: member.Active,
		}))
	if err != nil {
		return lending.Member{}, err
	}

	if _, err = s.exec(ctx, "add_member", sqlQuery); err != nil {
		return lending.Member{}, err
	}

	return member, nil
}

// SetMemberActive activates or deactivates a member.
func (s *Store) SetMemberActive(ctx context.Context, memberID uuid.UUID, active bool) error {
	rowsAffected, err := s.execUpdate(ctx, "set_member_active", s.sql().
		Update(s.tables.members).
		Set(goqu.Record{colActive: active}).
		Where(goqu.C(colID).Eq(memberID.String())))
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return lending.ErrMemberNotFound
	}

	return nil
}

// GetMember returns the member with the given ID and its held copies in the order they were added.
func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (lending.Member, error) {
	sqlQuery, err := s.toSQL("get_member", s.sql().
		From(s.tables.members).
		Select(colID, colName, colEmail, colPhone, colActive).
		Where(goqu.C(colID).Eq(id.String())))
	if err != nil {
		return lending.Member{}, err
	}

	var (
		member lending.Member
		found  bool
	)

	err = s.query(ctx, "get_member", sqlQuery, func(rows adapters.DBRows) error {
		var rawID string
		if scanErr := rows.Scan(&rawID, &member.Name, &member.Email, &member.Phone, &member.Active); scanErr != nil {
			return scanErr
		}

		found = true
		member.ID = id

		return nil
	})
	if err != nil {
		return lending.Member{}, err
	}

	if !found {
		return lending.Member{}, lending.ErrMemberNotFound
	}

	holdings, err := s.holdingsOf(ctx, id)
	if err != nil {
		return lending.Member{}, err
	}

	member.Holdings = holdings

	return member, nil
}

func (s *Store) holdingsOf(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error) {
	sqlQuery, err := s.toSQL("get_holdings", s.sql().
		From(s.tables.holdings).
		Select(colBookID).
		Where(
			goqu.C(colMemberID).Eq(memberID.String()),
			goqu.C(colReleased).IsFalse(),
		).
		Order(goqu.C(colID).Asc()))
	if err != nil {
		return nil, err
	}

	holdings := make([]uuid.UUID, 0)

	err = s.query(ctx, "get_holdings", sqlQuery, func(rows adapters.DBRows) error {
		var rawBookID string
		if scanErr := rows.Scan(&rawBookID); scanErr != nil {
			return scanErr
		}

		bookID, parseErr := uuid.Parse(rawBookID)
		if parseErr != nil {
			return errors.Join(ErrCorruptRow, parseErr)
		}

		holdings = append(holdings, bookID)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return holdings, nil
}

// AddHolding makes the holding of a record held. A released holding is restored in place,
// a new one is inserted by INSERT ... SELECT from the member row, so unknown members insert nothing.
func (s *Store) AddHolding(ctx context.Context, holding lending.Holding) error {
	restored, err := s.execUpdate(ctx, "restore_holding", s.sql().
		Update(s.tables.holdings).
		Set(goqu.Record{colReleased: false}).
		Where(holdingMatches(holding)...))
	if err != nil || restored > 0 {
		return err
	}

	sqlQuery, err := s.toSQL("add_holding", s.sql().
		Insert(s.tables.holdings).
		Cols(colRecordID, colMemberID, colBookID).
		FromQuery(s.sql().
			From(s.tables.members).
			Select(goqu.V(holding.RecordID.String()), goqu.C(colID), goqu.V(holding.BookID.String())).
			Where(goqu.C(colID).Eq(holding.MemberID.String()))).
		OnConflict(goqu.DoNothing()))
	if err != nil {
		return err
	}

	added, err := s.exec(ctx, "add_holding", sqlQuery)
	if err != nil || added > 0 {
		return err
	}

	if _, err = s.GetMember(ctx, holding.MemberID); err != nil {
		return err
	}

	// The record is held already, but not by this member or for this book.
	return errors.Join(lending.ErrInvariantViolation, fmt.Errorf("record %s is held by another member or for another book", holding.RecordID))
}

// RemoveHolding releases the holding of a record. Releasing a released holding matches its row again and succeeds.
func (s *Store) RemoveHolding(ctx context.Context, holding lending.Holding) error {
	released, err := s.execUpdate(ctx, "remove_holding", s.sql().
		Update(s.tables.holdings).
		Set(goqu.Record{colReleased: true}).
		Where(holdingMatches(holding)...))
	if err != nil || released > 0 {
		return err
	}

	if _, err = s.GetMember(ctx, holding.MemberID); err != nil {
		return err
	}

	return errors.Join(
		lending.ErrInvariantViolation,
		lending.ErrHoldingNotFound,
		fmt.Errorf("member %s holds no copy for record %s", holding.MemberID, holding.RecordID),
	)
}

func holdingMatches(holding lending.Holding) []exp.Expression {
	return []exp.Expression{
		goqu.C(colRecordID).Eq(holding.RecordID.String()),
		goqu.C(colMemberID).Eq(holding.MemberID.String()),
		goqu.C(colBookID).Eq(holding.BookID.String()),
	}
}

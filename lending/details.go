package lending

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// BookSummary is the part of a Book shown next to a ledger entry.
type BookSummary struct {
	Title  string
	Author string
	ISBN   string
}

// MemberSummary is the part of a Member shown next to a ledger entry.
type MemberSummary struct {
	Name  string
	Email string
	Phone string
}

// RecordDetails is a ledger entry with summaries of its book and member.
// A summary is nil when its book or member no longer exists.
type RecordDetails struct {
	BorrowRecord
	Book   *BookSummary
	Member *MemberSummary
}

// DescribeRecords attaches book and member summaries to records, looking up each book and member once.
func (e *Engine) DescribeRecords(ctx context.Context, records ...BorrowRecord) (details []RecordDetails, err error) {
	observer, ctx := e.observe(ctx, OperationDescribe)
	defer func() { observer.finish(err) }()

	books := make(map[uuid.UUID]*BookSummary)
	members := make(map[uuid.UUID]*MemberSummary)
	details = make([]RecordDetails, 0, len(records))

	for _, record := range records {
		book, seen := books[record.BookID]
		if !seen {
			if book, err = e.bookSummary(ctx, record.BookID); err != nil {
				return nil, err
			}
			books[record.BookID] = book
		}

		member, seen := members[record.MemberID]
		if !seen {
			if member, err = e.memberSummary(ctx, record.MemberID); err != nil {
				return nil, err
			}
			members[record.MemberID] = member
		}

		details = append(details, RecordDetails{BorrowRecord: record, Book: book, Member: member})
	}

	return details, nil
}

func (e *Engine) bookSummary(ctx context.Context, id uuid.UUID) (*BookSummary, error) {
	var book Book
	err := e.call(ctx, func(ctx context.Context) (err error) {
		book, err = e.catalog.GetBook(ctx, id)
		return err
	})

	switch {
	case errors.Is(err, ErrBookNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return &BookSummary{Title: book.Title, Author: book.Author, ISBN: book.ISBN}, nil
}

func (e *Engine) memberSummary(ctx context.Context, id uuid.UUID) (*MemberSummary, error) {
	var member Member
	err := e.call(ctx, func(ctx context.Context) (err error) {
		member, err = e.members.GetMember(ctx, id)
		return err
	})

	switch {
	case errors.Is(err, ErrMemberNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return &MemberSummary{Name: member.Name, Email: member.Email, Phone: member.Phone}, nil
}

// Package pagination assembles result sets larger than one page of a query.
//
// A count query reports the total number of rows for a date range; a page
// query then returns one page per call, selected by an offset and a page size
// passed as query parameters. Pages are fetched one after another, appended,
// and exact duplicate rows are removed before the dataset is returned.
//
// Example usage:
//
//	fetcher := pagination.New(redashClient, pagination.DefaultConfig())
//	ds, err := fetcher.FetchAll(ctx, pagination.Request{
//		CountQueryID: "346",
//		PageQueryID:  "345",
//		PageSize:     50000,
//		Start:        "2026-08-01",
//		End:          "2026-10-19",
//	})
//
// The number of pages is total/PageSize + 1, so a zero total still issues one
// page query at offset 0. The loop stops when either the offset passes the
// total or the page budget is used up.
package pagination

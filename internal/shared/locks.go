package shared

import "hash/fnv"

// PatientLockID maps a patient identifier onto the Postgres advisory lock
// keyspace. Every mutating billing operation takes this lock first,
// serializing fetch-then-update cycles per patient while leaving other
// patients free to proceed in parallel.
func PatientLockID(patientID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("patient:" + patientID))
	return int64(h.Sum64())
}

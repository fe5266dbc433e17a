package utils

/*
PartitionMap splits a contiguous global index range across a number of
owners, buckets differing in size by at most one. The remainder spreads
over the leading buckets, so ownership is a pure function of the two
counts and every rank computes the same map without communication.

The coupled drivers use this to assign global pin channels to heat
ranks and to walk any rank's owned range from another rank.
*/
type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree buckets
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of each bucket
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// GetBucketRange reports the half-open global range [kMin, kMax) owned
// by bucket bn.
func (pm *PartitionMap) GetBucketRange(bn int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bn][0], pm.Partitions[bn][1]
	return
}

// GetBucketDimension reports how many indices bucket bn owns. Empty
// buckets occur when there are more owners than indices.
func (pm *PartitionMap) GetBucketDimension(bn int) (count int) {
	var (
		k1, k2 = pm.GetBucketRange(bn)
	)
	count = k2 - k1
	return
}

// GetBucket locates the bucket owning global index k, starting from a
// proportional guess and walking to the true owner.
func (pm *PartitionMap) GetBucket(k int) (bn, kMin, kMax int) {
	bn = int(float64(pm.ParallelDegree*k) / float64(pm.MaxIndex))
	for !(pm.Partitions[bn][0] <= k && k < pm.Partitions[bn][1]) {
		if pm.Partitions[bn][0] > k {
			bn--
		} else {
			bn++
		}
		if bn == -1 || bn == pm.ParallelDegree {
			return -1, 0, 0
		}
	}
	kMin, kMax = pm.Partitions[bn][0], pm.Partitions[bn][1]
	return
}

func (pm *PartitionMap) Split1D(bn int) (bucket [2]int) {
	// Splits the range into ParallelDegree pieces with a maximum
	// imbalance of one item
	var (
		Npart            = pm.MaxIndex / pm.ParallelDegree
		startAdd, endAdd int
		remainder        = pm.MaxIndex % pm.ParallelDegree
	)
	if remainder != 0 { // spread the remainder over the first buckets evenly
		if bn+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = bn
			endAdd = 1
		}
	}
	bucket[0] = bn*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}
